package persona

import (
	"strings"
	"unicode"
)

// DefaultSystemPrompt asks the model to pick an animal and write the
// description in "furry speak".
const DefaultSystemPrompt = `Using the description of the image, you are picking a fursona below from the list that most resonates with this image. Try to pick unique ones each time.

Available fursonas:
mouse
pig
fox
hedgehog
glowfish
goldfish
cow
giraffe
shrimp
elephant
cougar
cat
chicken
snake
squirrel
bear
dog
frog
horse
peacock
rabbit
turtle
tiger
lion
alligator
racoon
cockroach
meowl
monkey
ox
sheep
Pick the one that best matches the image's vibe. Pick Squirrel and elephant less, squirrel gets picked a lot - try to pick every animal equally.

IMPORTANT: Your response MUST start with the animal name as the first word, followed by a description explaining why you chose that animal based on the image's characteristics, colors, mood, or energy.

Format: [ANIMAL_NAME] [Description explaining why this animal matches the image]
DO NOT PUT ANY COLON OR DASH IMMEDIATELY AFTER THE ANIMAL NAME, AND ONLY RESPONSE WITH ABOVE FORMAT.

Be creative, personal, and specific to what you observe in the image. Make the person feel special about their match! Try to sound as wacky as possible because you are writing out a fursona for furries!!! And furries absolutely love wacky! Talk in furry speak by replace r and l with w, and all n preceding a vowel with ny. And add random emoticons and nya~ in it`

// FallbackDescription is used when the model answers with a single word
const FallbackDescription = "You have a unique energy that matches this fursona!"

// BuildPrompt appends the caller's request, if any, to the system prompt
func BuildPrompt(system, user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		return system
	}
	return system + "\n\nUser request: " + user
}

// ParseResponse splits a model answer into the fursona name (the first word,
// lower-cased) and the rest as description. Punctuation the model sometimes
// attaches to the name despite instructions is dropped.
func ParseResponse(text string) (name, description string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}

	idx := strings.IndexFunc(text, unicode.IsSpace)
	if idx < 0 {
		return cleanName(text), FallbackDescription
	}

	name = cleanName(text[:idx])
	description = strings.TrimSpace(text[idx:])
	if description == "" {
		description = FallbackDescription
	}
	return name, description
}

func cleanName(word string) string {
	word = strings.TrimFunc(word, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	return strings.ToLower(word)
}
