// Package wire owns the JSON envelopes exchanged with the bot runtime.
//
// Ownership boundary:
// - request/response/event envelope shapes
// - inbound frame classification (response vs event vs heartbeat vs malformed)
// - response payload decoding helpers
package wire
