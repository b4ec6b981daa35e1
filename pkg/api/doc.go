// Package api is the HTTP surface of the fursona service.
//
// Routes live under /api and are grouped by concern, each group with its own
// RegisterRoutes:
//
//   - AuthHandlers: /auth/register, /auth/login, /auth/me
//   - FursonaHandlers: /fursona/generate, /fursona/history
//   - SubscriptionHandlers: /subscription/plans, /subscription/create-checkout,
//     /subscription/create-portal, /subscription/current, /subscription/payments
//   - WebhookHandlers: /webhook/stripe
//
// Errors from the domain packages are turned into status codes in one place
// per group so the JSON error bodies stay stable for the frontend.
//
//	server := api.NewServer(api.Dependencies{...})
//	http.ListenAndServe(":5000", server)
package api
