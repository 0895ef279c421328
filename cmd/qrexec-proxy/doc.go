// Package main is the qrexec-proxy entry point: a short-lived process
// Qubes OS's qrexec-client execs once per RPC invocation to relay (and
// optionally inspect, rate-limit, or truncate) the byte stream between a
// calling VM and a destination RPC service.
//
// Architecture:
//
//	calling VM --qrexec--> qrexec-proxy --qrexec-client-vm--> destination VM
//
// qrexec-proxy never listens on a socket and never outlives a single
// call: Qubes OS's qrexec-client-vm process and this one are connected
// back to back via inherited stdin/stdout, and the chain configuration
// decides which Source, filters, and Destination stand between them.
//
// Configuration:
//   - Ambient process configuration via environment variables (LOG_LEVEL,
//     LOG_DEV, LOG_FALLBACK_PATH, QREXEC_PROXY_CONFIG)
//   - Chain configuration from the JSON file at QREXEC_PROXY_CONFIG,
//     parsed once per invocation
//
// Usage:
//
//	# invoked by qrexec-client with QREXEC_REMOTE_DOMAIN set in the
//	# environment:
//	qrexec-proxy <chain>+<destination vm>+<call>
//
// Signals:
//   - SIGINT, SIGTERM: cancel the in-flight session's context, letting
//     every pipeline stage unwind through its own cleanup path
package main
