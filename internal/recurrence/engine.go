package recurrence

import (
	"errors"
	"time"
)

// DefaultOccurrenceCap bounds expansion when a rule has no explicit count.
const DefaultOccurrenceCap = 52

// Frequency identifies a recurrence pattern variant.
type Frequency string

const (
	// FrequencyDaily repeats every Interval days.
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly repeats every Interval weeks, optionally on a weekday set.
	FrequencyWeekly Frequency = "weekly"
	// FrequencyMonthly repeats every Interval calendar months.
	FrequencyMonthly Frequency = "monthly"
)

// ErrUnknownFrequency indicates a rule with an unsupported frequency variant.
var ErrUnknownFrequency = errors.New("recurrence: unknown frequency")

// ErrInvalidInterval indicates a non-positive repeat interval.
var ErrInvalidInterval = errors.New("recurrence: interval must be positive")

// Pattern is the closed set of recurrence variants. Each variant carries only
// the fields meaningful for its frequency.
type Pattern interface {
	Frequency() Frequency
	interval() int
}

// Daily repeats every Interval days.
type Daily struct {
	Interval int
}

// Frequency implements Pattern.
func (Daily) Frequency() Frequency { return FrequencyDaily }

func (d Daily) interval() int { return d.Interval }

// Weekly repeats every Interval weeks. When Weekdays is non-empty, every
// matching weekday inside an active week produces an occurrence.
type Weekly struct {
	Interval int
	Weekdays []time.Weekday
}

// Frequency implements Pattern.
func (Weekly) Frequency() Frequency { return FrequencyWeekly }

func (w Weekly) interval() int { return w.Interval }

// Monthly repeats every Interval calendar months, holding the day of month
// constant. Month-end overflow follows time.Time.AddDate semantics and is not
// normalized.
type Monthly struct {
	Interval int
}

// Frequency implements Pattern.
func (Monthly) Frequency() Frequency { return FrequencyMonthly }

func (m Monthly) interval() int { return m.Interval }

// Rule pairs a pattern variant with its termination bounds.
type Rule struct {
	Pattern Pattern
	// Until, when set, excludes occurrences after this date.
	Until *time.Time
	// Count limits the number of occurrences. Zero applies DefaultOccurrenceCap.
	Count int
}

func (r Rule) limit() int {
	if r.Count > 0 {
		return r.Count
	}
	return DefaultOccurrenceCap
}

func (r Rule) within(candidate time.Time) bool {
	return r.Until == nil || !candidate.After(*r.Until)
}

// Expand generates the ordered occurrence dates for a rule beginning at start.
// The start date itself is the first candidate. Expansion is pure and
// deterministic given (start, rule).
func Expand(start time.Time, rule Rule) ([]time.Time, error) {
	if rule.Pattern == nil {
		return nil, ErrUnknownFrequency
	}
	if rule.Pattern.interval() <= 0 {
		return nil, ErrInvalidInterval
	}

	switch pattern := rule.Pattern.(type) {
	case Daily:
		return expandByStep(start, rule, func(t time.Time) time.Time {
			return t.AddDate(0, 0, pattern.Interval)
		}), nil
	case Weekly:
		if len(pattern.Weekdays) == 0 {
			return expandByStep(start, rule, func(t time.Time) time.Time {
				return t.AddDate(0, 0, 7*pattern.Interval)
			}), nil
		}
		return expandWeekdays(start, rule, pattern), nil
	case Monthly:
		return expandByStep(start, rule, func(t time.Time) time.Time {
			return t.AddDate(0, pattern.Interval, 0)
		}), nil
	default:
		return nil, ErrUnknownFrequency
	}
}

func expandByStep(start time.Time, rule Rule, step func(time.Time) time.Time) []time.Time {
	limit := rule.limit()
	dates := make([]time.Time, 0, limit)

	current := start
	for len(dates) < limit && rule.within(current) {
		dates = append(dates, current)
		current = step(current)
	}
	return dates
}

// expandWeekdays scans day by day emitting every selected weekday, then after
// each full 7-day window jumps over the weeks skipped by the interval.
func expandWeekdays(start time.Time, rule Rule, pattern Weekly) []time.Time {
	selected := make(map[time.Weekday]struct{}, len(pattern.Weekdays))
	for _, day := range pattern.Weekdays {
		selected[day] = struct{}{}
	}

	limit := rule.limit()
	dates := make([]time.Time, 0, limit)

	current := start
	scanned := 0
	for len(dates) < limit && rule.within(current) {
		if _, ok := selected[current.Weekday()]; ok {
			dates = append(dates, current)
		}
		current = current.AddDate(0, 0, 1)
		scanned++
		if scanned == 7 {
			current = current.AddDate(0, 0, (pattern.Interval-1)*7)
			scanned = 0
		}
	}
	return dates
}
