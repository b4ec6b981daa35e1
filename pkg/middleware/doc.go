// Package middleware holds the HTTP middleware that needs domain knowledge:
// bearer token authentication and rate limiting. Generic middleware
// (request IDs, logging, CORS, recovery) lives in pkg/httputil.
//
// # Authentication
//
//	authMW := middleware.NewAuthMiddleware(tokens, auditLogger)
//	router.Handle("/fursona/generate", authMW.Handler(generateHandler))
//
// A missing token is answered with 401 and an invalid or expired one with
// 403. Handlers read the caller with middleware.UserID(r).
//
// # Rate Limiting
//
// Two Limiter implementations share one middleware:
//
//   - RateLimiter is an in-process token bucket.
//   - DistributedRateLimiter is a fixed window counter in Redis, shared by
//     every instance.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "ratelimit:generate")
//	router.Handle("/fursona/generate", middleware.RateLimit("generate", limiter, metrics)(h))
//
// Requests are keyed by user when authenticated and by client IP otherwise.
// A limiter error lets the request through.
package middleware
