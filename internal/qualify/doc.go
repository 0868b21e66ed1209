// Package qualify resolves instrument specifications into venue-routable
// contracts.
//
// Equities qualify once at their primary routing venue. Options walk an
// ordered venue fallback chain, each attempt under its own timeout,
// stopping at the first success. Exhausting the chain fails only the
// requesting instrument, never the shared session.
package qualify
