// Package model defines the shared domain types: instruments, market
// sessions, data modes, and the point-in-time quotes returned to callers.
package model
