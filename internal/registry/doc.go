// Package registry deduplicates and tracks live upstream feeds.
//
// Feeds are keyed by (instrument, generation) and tagged with the market
// session they were opened under. Concurrent callers for the same
// instrument in the same session share one upstream feed; a session
// transition cancels the stale feed and opens a fresh one. A generation
// bump strands every existing key, which is how reset invalidates the
// registry wholesale without touching entries one by one.
package registry
