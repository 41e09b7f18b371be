package schedule

import (
	"fmt"
	"strings"
)

// Fields is the structured (dict) schedule form used by job configs:
//
//	schedule:
//	  hour: "9"
//	  minute: "0"
//	  day_of_week: "mon-fri"
//
// Omitted fields default to "every". Values use the same grammar as the
// corresponding cron field; day_of_week additionally accepts weekday names.
type Fields struct {
	Minute    string `json:"minute,omitempty"`
	Hour      string `json:"hour,omitempty"`
	Day       string `json:"day,omitempty"`
	Month     string `json:"month,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
}

// Empty reports whether no field is set.
func (f Fields) Empty() bool {
	return f.Minute == "" && f.Hour == "" && f.Day == "" && f.Month == "" && f.DayOfWeek == ""
}

// Cron renders the fields as an equivalent five-field cron expression.
func (f Fields) Cron() string {
	return strings.Join([]string{
		orStar(f.Minute), orStar(f.Hour), orStar(f.Day), orStar(f.Month), orStar(f.DayOfWeek),
	}, " ")
}

func orStar(s string) string {
	if strings.TrimSpace(s) == "" {
		return "*"
	}
	return strings.TrimSpace(s)
}

var weekdayNums = map[string]string{
	"sun": "0", "mon": "1", "tue": "2", "wed": "3", "thu": "4", "fri": "5", "sat": "6",
}

// FromFields builds a Schedule from the dict form. A Fields value and the
// cron string it renders to produce identical fire-time sequences.
func FromFields(f Fields) (Schedule, error) {
	dow, err := normalizeWeekdays(orStar(f.DayOfWeek))
	if err != nil {
		return nil, err
	}
	return newSpec(orStar(f.Minute), orStar(f.Hour), orStar(f.Day), orStar(f.Month), dow)
}

// normalizeWeekdays rewrites weekday name tokens ("mon", "MON-FRI") to their
// numeric cron equivalents, leaving numeric tokens untouched.
func normalizeWeekdays(field string) (string, error) {
	if field == "*" {
		return field, nil
	}
	tokens := strings.Split(field, ",")
	for i, tok := range tokens {
		t := strings.ToLower(strings.TrimSpace(tok))
		if t == "" {
			return "", fmt.Errorf("%w: empty day_of_week value", ErrInvalidSchedule)
		}
		if !strings.ContainsAny(t, "abcdefghijklmnopqrstuvwxyz") {
			tokens[i] = t
			continue
		}
		if n, ok := weekdayNums[t]; ok {
			tokens[i] = n
			continue
		}
		if a, b, ok := strings.Cut(t, "-"); ok {
			na, okA := weekdayNums[a]
			nb, okB := weekdayNums[b]
			if okA && okB {
				tokens[i] = na + "-" + nb
				continue
			}
		}
		return "", fmt.Errorf("%w: unknown weekday %q", ErrInvalidSchedule, tok)
	}
	return strings.Join(tokens, ","), nil
}
