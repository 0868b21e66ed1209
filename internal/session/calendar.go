package session

import "time"

// NYSE full-day holidays: New Year's Day, MLK Day, Presidents' Day,
// Good Friday, Memorial Day, Juneteenth, Independence Day, Labor Day,
// Thanksgiving, Christmas. Fixed-date holidays observe Sat→Fri, Sun→Mon.

// IsHoliday reports whether the exchange is closed all day on the given
// date. The time's location is respected; only year/month/day are read.
func IsHoliday(t time.Time) bool {
	y, m, d := t.Date()

	for _, h := range holidaysForYear(y) {
		if h.Month() == m && h.Day() == d {
			return true
		}
	}
	return false
}

func holidaysForYear(year int) []time.Time {
	return []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)),
		nthWeekday(year, time.January, time.Monday, 3),  // MLK Day
		nthWeekday(year, time.February, time.Monday, 3), // Presidents' Day
		goodFriday(year),
		lastWeekday(year, time.May, time.Monday), // Memorial Day
		observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC)),
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)),
		nthWeekday(year, time.September, time.Monday, 1),   // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4),  // Thanksgiving
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)),
	}
}

// observed shifts Saturday holidays to Friday and Sunday holidays to Monday,
// matching NYSE observance rules.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// nthWeekday returns the nth occurrence of the weekday in the month.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last occurrence of the weekday in the month.
func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(wd) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// goodFriday is two days before Easter Sunday (anonymous Gregorian computus).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1

	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
