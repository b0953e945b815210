// Package connection manages duplex streaming connections to market-data
// endpoints.
//
// Conn owns one socket and its reconnect/heartbeat state machine; Registry
// owns the set of named connections. Transport failures are recovered
// locally via exponential-backoff reconnects and surface only as status
// events, never as errors from Send or Subscribe.
package connection
