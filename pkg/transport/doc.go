// Package transport defines the driver abstraction aprslink uses to reach the
// APRS network, plus the pieces every driver shares.
//
// Key concepts:
//   - Driver: owns one connection (APRS-IS socket, KISS TNC over TCP or
//     serial, or the in-process fake) and moves packets across it
//   - State: Disconnected -> Connecting -> Connected -> Disconnected, with
//     Closed terminal for an instance; a new instance is built to reconnect
//   - Variant: a registrable constructor plus enablement/configuration
//     predicates; the Registry returns the first enabled and configured one
//   - Retry/Backoff: bounded connect retries with additive backoff that
//     surface authentication failures immediately
//   - Keepalive: last-activity instant shared between the receive worker and
//     the keepalive supervisor
package transport
