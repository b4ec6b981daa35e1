// Package httputil provides HTTP helpers for JSON responses, request parsing
// and the middleware shared by every route.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "Image data is required")
//	httputil.WriteJSON(w, http.StatusForbidden, map[string]interface{}{"error": "Generation limit reached", "limit": 5})
//
// WriteInternalError never echoes the underlying error to the client; it
// logs it with the request ID instead.
//
// # Request Parsing
//
//	var req registerRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//	)(router)
package httputil
