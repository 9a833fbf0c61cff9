// Package event implements the host event bus. Host player events fan out to
// plugin handlers synchronously, in subscription order, with per-handler
// failure containment: a handler error or panic is logged against the owning
// plugin and never prevents the remaining handlers from running.
package event
