// Package server hosts the MediaHarvest control API from a single HTTP
// server.
//
// The server builds a consistent middleware chain of logging, audit,
// metrics, rate limiting, correlation IDs, and auth so handlers all share
// common protections and instrumentation. Security headers and optional
// CORS sit at the outer edge so every response carries them.
package server
