// Package audit implements the append-only security audit trail.
//
//   - [Sink] is the interface event consumers implement (channel, JSON writer, no-op).
//   - [Recorder] is a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] is the structured audit record: timestamp, type, user, session, IP, metadata.
//
// This package owns event buffering and sink delivery. It does not
// decide which events to emit; that responsibility belongs to the
// services that call it. A failed or slow sink never blocks or fails
// the operation that produced the event.
package audit
