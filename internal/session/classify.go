package session

import (
	"time"

	"github.com/rickgao/ib-quotes/internal/model"
)

// Trading windows in exchange-local time (America/New_York).
const (
	preOpenHour     = 4
	regularOpenHour = 9
	regularOpenMin  = 30
	regularCloseHr  = 16
	afterCloseHour  = 20
)

// DefaultDelayedMultiplier scales the caller's timeout hint when the
// session implies delayed data, which arrives with added latency.
const DefaultDelayedMultiplier = 5

var exchangeTZ = mustLoadTZ("America/New_York")

func mustLoadTZ(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("session: load exchange timezone: " + err.Error())
	}
	return loc
}

// Classify maps a wall-clock instant to a market session. Weekend and
// holiday checks precede the intraday windows; anything outside the
// pre/regular/after windows on a trading day (the overnight gap) is closed.
func Classify(now time.Time) model.Session {
	et := now.In(exchangeTZ)

	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return model.SessionWeekend
	}
	if IsHoliday(et) {
		return model.SessionHoliday
	}

	y, m, d := et.Date()
	preStart := time.Date(y, m, d, preOpenHour, 0, 0, 0, exchangeTZ)
	regOpen := time.Date(y, m, d, regularOpenHour, regularOpenMin, 0, 0, exchangeTZ)
	regClose := time.Date(y, m, d, regularCloseHr, 0, 0, 0, exchangeTZ)
	afterEnd := time.Date(y, m, d, afterCloseHour, 0, 0, 0, exchangeTZ)

	switch {
	case !et.Before(regOpen) && !et.After(regClose):
		return model.SessionRegular
	case !et.Before(preStart) && et.Before(regOpen):
		return model.SessionPre
	case et.After(regClose) && !et.After(afterEnd):
		return model.SessionAfter
	}
	return model.SessionClosed
}

// EffectiveTimeout returns the poll-loop wait bound for the session.
// Delayed sessions get multiplier× the caller's hint since delayed ticks
// can take several seconds to start flowing.
func EffectiveTimeout(s model.Session, hint time.Duration, multiplier int) time.Duration {
	if multiplier < 1 {
		multiplier = DefaultDelayedMultiplier
	}
	if s.Delayed() {
		return hint * time.Duration(multiplier)
	}
	return hint
}
