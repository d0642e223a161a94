// Package audit relays security events from the auth flows to a sink without
// blocking the request path.
//
// The dispatcher buffers events and delivers them from one goroutine. Which
// events to emit is decided by the engine.
package audit
