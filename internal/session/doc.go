// Package session classifies wall-clock time into market sessions against
// the NYSE trading calendar.
//
// Classification is a pure function of the clock: no network calls, no
// shared state. The result drives both the upstream data mode (live vs
// delayed) and the effective wait bound for quote polling.
package session
