// Package synth turns raw upstream field snapshots into caller-facing
// quotes. Synthesis is a pure function of the snapshot and the market
// session: it holds no state and never talks to the gateway.
package synth
