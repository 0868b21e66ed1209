// Package connection owns the single upstream gateway session.
//
// The manager connects lazily, sweeping an ordered endpoint list and a
// small client-id range until one combination reports connected. The
// cached session is reused until it drops or is invalidated; failed
// sessions are discarded and replaced wholesale, never reconnected in
// place. Exhausting every endpoint×client-id combination is the one fatal
// error in the subsystem.
package connection
