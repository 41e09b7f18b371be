package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Spec is a parsed five-field cron expression. Each field is a bitset of the
// calendar values it accepts; a timestamp fires when every field accepts its
// corresponding component.
type Spec struct {
	minute uint64 // 0-59
	hour   uint64 // 0-23
	dom    uint64 // 1-31
	month  uint64 // 1-12
	dow    uint64 // 0-6, Sunday = 0

	// Plain "*" in the day fields, tracked separately because POSIX cron
	// ORs day-of-month and day-of-week only when both are restricted.
	domStar bool
	dowStar bool
}

// descriptorParser handles "@hourly", "@daily", "@every 30m" and friends.
var descriptorParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse turns a schedule string into a Schedule. Five whitespace-separated
// cron fields (minute hour day-of-month month day-of-week) are parsed by the
// native grammar below; "@descriptor" forms are delegated to robfig/cron.
func Parse(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if strings.HasPrefix(raw, "@") {
		s, err := descriptorParser.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, raw, err)
		}
		return s, nil
	}

	parts := strings.Fields(raw)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: %q: expected 5 fields, got %d", ErrInvalidSchedule, raw, len(parts))
	}
	return newSpec(parts[0], parts[1], parts[2], parts[3], parts[4])
}

func newSpec(minute, hour, dom, month, dow string) (*Spec, error) {
	s := &Spec{
		domStar: dom == "*",
		dowStar: dow == "*",
	}
	var err error
	if s.minute, err = parseField(minute, 0, 59); err != nil {
		return nil, fmt.Errorf("%w: minute field: %v", ErrInvalidSchedule, err)
	}
	if s.hour, err = parseField(hour, 0, 23); err != nil {
		return nil, fmt.Errorf("%w: hour field: %v", ErrInvalidSchedule, err)
	}
	if s.dom, err = parseField(dom, 1, 31); err != nil {
		return nil, fmt.Errorf("%w: day-of-month field: %v", ErrInvalidSchedule, err)
	}
	if s.month, err = parseField(month, 1, 12); err != nil {
		return nil, fmt.Errorf("%w: month field: %v", ErrInvalidSchedule, err)
	}
	if s.dow, err = parseField(dow, 0, 6); err != nil {
		return nil, fmt.Errorf("%w: day-of-week field: %v", ErrInvalidSchedule, err)
	}
	return s, nil
}

// parseField parses one cron field ("*", "*/6", "1,3,5", "1-5", "10-40/5",
// "30/10") into a bitset of accepted values within [min, max].
func parseField(field string, min, max int) (uint64, error) {
	var bits uint64
	for _, token := range strings.Split(field, ",") {
		b, err := parseToken(token, min, max)
		if err != nil {
			return 0, err
		}
		bits |= b
	}
	if bits == 0 {
		return 0, fmt.Errorf("empty field %q", field)
	}
	return bits, nil
}

func parseToken(token string, min, max int) (uint64, error) {
	if token == "" {
		return 0, fmt.Errorf("empty value")
	}

	step := 1
	base := token
	if idx := strings.IndexByte(token, '/'); idx >= 0 {
		base = token[:idx]
		n, err := strconv.Atoi(token[idx+1:])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step in %q", token)
		}
		step = n
	}

	lo, hi := min, max
	switch {
	case base == "*":
		// full range
	case strings.Contains(base, "-"):
		rp := strings.SplitN(base, "-", 2)
		a, err1 := strconv.Atoi(rp[0])
		b, err2 := strconv.Atoi(rp[1])
		if err1 != nil || err2 != nil {
			return 0, fmt.Errorf("invalid range %q", base)
		}
		if a > b || a < min || b > max {
			return 0, fmt.Errorf("range %q out of bounds %d-%d", base, min, max)
		}
		lo, hi = a, b
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", base)
		}
		if n < min || n > max {
			return 0, fmt.Errorf("value %d out of bounds %d-%d", n, min, max)
		}
		if step == 1 {
			return 1 << uint(n), nil
		}
		// "N/step" means N through max, stepping (vixie cron extension).
		lo = n
	}

	var bits uint64
	for i := lo; i <= hi; i += step {
		bits |= 1 << uint(i)
	}
	return bits, nil
}

func (s *Spec) matchMinute(m int) bool { return s.minute&(1<<uint(m)) != 0 }
func (s *Spec) matchHour(h int) bool   { return s.hour&(1<<uint(h)) != 0 }
func (s *Spec) matchMonth(m int) bool  { return s.month&(1<<uint(m)) != 0 }

// matchDay applies the POSIX cron rule for the two day fields: when both are
// restricted the job fires if either matches, otherwise the restricted one
// (if any) decides alone.
func (s *Spec) matchDay(dom int, dow int) bool {
	domOK := s.dom&(1<<uint(dom)) != 0
	dowOK := s.dow&(1<<uint(dow)) != 0
	switch {
	case s.domStar && s.dowStar:
		return true
	case s.domStar:
		return dowOK
	case s.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}
