// Package api exposes a plugin registry over HTTP.
//
// Routes:
//
//	GET  /records         records of every repository (?capability=, ?source=)
//	GET  /repositories    repositories with their current generation
//	POST /refresh         re-inspect every repository
//	GET  /history         recorded inspections, when WithHistory is given
//	                      (?kind=, ?source=, ?status=, ?since=RFC3339, ?limit=)
//	GET  /healthz         liveness
//	GET  /metrics         Prometheus metrics
package api
