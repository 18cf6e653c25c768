// Package api hosts HTTP handlers that front the MediaHarvest control
// surface.
//
// The handlers assembled by Handler coordinate request validation and
// response shaping while delegating the actual work to the scheduler,
// runner, and storage gateway injected at construction time. The package
// does not reach for globals or singletons and expects callers to supply
// fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server
// has already enforced authentication, rate limiting, metrics, auditing,
// and logging concerns. New routes should preserve that contract by
// avoiding duplicate validation and by leaning on the middleware
// guarantees established in the server stack.
package api
