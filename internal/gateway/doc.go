// Package gateway turns the reverse WebSocket connection from the bot
// runtime into call/response semantics for the rest of the process.
//
// Ownership boundary:
// - the listening socket and the upgrade path (peer may connect on /ws or /)
// - the registry of live peer connections and their read loops
// - the correlation table pairing responses to waiting callers by echo
// - per-connection heartbeat probing and dead-connection teardown
// - the Call/CallWithRetry facade and the unsolicited event stream
package gateway
