// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding and request parsing.
//
// Responses:
//
//	httputil.WriteSuccess(w, records)
//	httputil.WriteBadRequest(w, "invalid capability")
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(log),
//		httputil.LoggingMiddleware(log),
//	)(router)
package httputil
