// Package persona turns an uploaded photo into a fursona.
//
// A request flows through four pieces:
//
//   - DecodeImage validates the base64 upload (size and format).
//   - A Generator asks a multimodal model which animal matches the photo.
//     OpenAIGenerator talks to OpenAI or to Gemini's OpenAI compatible
//     endpoint.
//   - ParseResponse splits the model's answer into a name and a description.
//   - Service ties them to the usage gate, so a generation is only charged
//     once the model has answered, and stores the result.
//
// Basic use:
//
//	registry := persona.NewRegistry(persona.ProviderGemini)
//	registry.Register(persona.ProviderGemini, gemini)
//
//	svc := persona.NewService(gate, registry, persona.NewPostgresStore(db), images, metrics)
//	result, err := svc.Generate(ctx, persona.GenerateRequest{UserID: id, Image: dataURL})
//
// Provider failures come back as *GenerationError, carrying the provider's
// own message in Detail.
package persona
