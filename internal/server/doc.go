// Package server hosts the playback control API and the operator dashboard
// from a single HTTP server.
//
// The server builds a consistent middleware chain of logging, metrics,
// security headers, request IDs, CORS, rate limiting, and the operator auth
// gate so handlers all share common protections and instrumentation.
//
// It serves API routes, the uploaded video files, and the embedded dashboard
// assets behind one multiplexer.
package server
