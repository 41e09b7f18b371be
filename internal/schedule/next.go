package schedule

import "time"

// horizonYears bounds the forward search so contradictory specs (day 31 in
// February) fail instead of spinning.
const horizonYears = 4

// Next returns the earliest minute-aligned instant strictly after from that
// satisfies every field of the spec, or the zero time when no such instant
// exists within the horizon.
//
// The candidate advances coarse-to-fine: skip to the next matching month,
// then day, then hour, then minute, so sparse specs don't walk one minute at
// a time through years of non-matching time.
func (s *Spec) Next(from time.Time) time.Time {
	loc := from.Location()
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(horizonYears, 0, 0)

	for t.Before(limit) {
		if !s.matchMonth(int(t.Month())) {
			// First minute of the next month.
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.matchDay(t.Day(), int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.matchHour(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !s.matchMinute(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
