// Package dispatch implements the Message Dispatcher component.
//
// The Message Dispatcher:
//   - Decodes inbound websocket frames into {type, payload} envelopes
//   - Routes each envelope to the handlers subscribed to its type, in registration order
//   - Drops malformed frames with a log line instead of failing the connection
//   - Lives exactly as long as one physical connection; Close makes it inert
package dispatch
