// Package quote is the caller-facing quote service. It owns the single
// worker goroutine through which every upstream interaction is funneled:
// callers submit requests over a channel and the worker connects,
// subscribes, and polls on their behalf, so the gateway session is only
// ever touched from one goroutine.
package quote
