// Package internal holds random identifier and digest helpers shared by the
// stores: session ids, one-time tokens, CSRF secrets, and login codes.
//
// # Sub-packages
//
//   - app: service wiring and HTTP server lifecycle
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: environment configuration for the service binary
//   - csrf: per-session double-submit values
//   - directory: the identity collaborator with Postgres and in-memory backends
//   - ephemeral: bounded Redis access shared by every store
//   - handler/http: chi transport, cookies, and error mapping
//   - logger, tracing: slog and OpenTelemetry setup
//   - mail: message composition and SMTP, Kafka, and breaker senders
//   - rate: presence-only cool-down marks
//   - stores: one-time token registry and login codes
//   - validation: request field validation
package internal
