// Package server implements the HTTP API in front of the relay pipelines.
//
// Every route except /metrics runs behind the same middleware chain: request
// id, Prometheus metrics, CORS and a per-client token bucket rate limit.
// Errors are returned as {"error": "..."} with a status derived from the
// sentinel errors of the relay and upload packages.
package server
