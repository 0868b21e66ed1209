// Package upstream models the market-data gateway session: the single
// network boundary of the system.
//
// Session is the abstract surface (connect, qualify, open/cancel feeds,
// advance). The production implementation speaks JSON over a WebSocket
// gateway. Inbound gateway messages are queued by a read loop and applied
// to feed state only by Advance, so all upstream interaction stays
// serialized on the single owning worker goroutine.
package upstream
