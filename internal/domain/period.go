package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period is a lookback window expressed as a day count.
type Period string

const (
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period90d Period = "90d"
)

var ErrUnsupportedPeriod = errors.New("unsupported period")

var ValidPeriods = []Period{Period7d, Period30d, Period90d}

func (p Period) Days() int {
	switch p {
	case Period7d:
		return 7
	case Period30d:
		return 30
	case Period90d:
		return 90
	default:
		return 0
	}
}

func (p Period) Valid() bool {
	return p.Days() > 0
}

// Window returns the half-open interval [now-days, now). All periods computed
// from the same now share an end, so shorter windows nest inside longer ones.
func (p Period) Window(now time.Time) Window {
	end := now.UTC()
	return Window{
		Start: end.AddDate(0, 0, -p.Days()),
		End:   end,
	}
}

func ParsePeriod(value string) (Period, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, p := range ValidPeriods {
		if string(p) == value {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q (expected 7d, 30d or 90d)", ErrUnsupportedPeriod, value)
}

// ParsePeriods accepts a comma separated list; an empty value means every period.
func ParsePeriods(value string) ([]Period, error) {
	if strings.TrimSpace(value) == "" {
		return append([]Period{}, ValidPeriods...), nil
	}
	var out []Period
	seen := map[Period]bool{}
	for _, part := range strings.Split(value, ",") {
		p, err := ParsePeriod(part)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
