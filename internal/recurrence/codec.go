package recurrence

import (
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ruleWire is the flat JSON shape exchanged with storage and API clients.
// Weekday numbering follows the product convention 0=Sunday..6=Saturday,
// which matches time.Weekday directly.
type ruleWire struct {
	Frequency   Frequency `json:"frequency"`
	Interval    int       `json:"interval"`
	DaysOfWeek  []int     `json:"days_of_week,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	Occurrences int       `json:"occurrences,omitempty"`
}

// MarshalJSON encodes the rule as a frequency-tagged object.
func (r Rule) MarshalJSON() ([]byte, error) {
	if r.Pattern == nil {
		return nil, ErrUnknownFrequency
	}

	wire := ruleWire{
		Frequency:   r.Pattern.Frequency(),
		Interval:    r.Pattern.interval(),
		Occurrences: r.Count,
	}
	if weekly, ok := r.Pattern.(Weekly); ok {
		for _, day := range weekly.Weekdays {
			wire.DaysOfWeek = append(wire.DaysOfWeek, int(day))
		}
	}
	if r.Until != nil {
		wire.EndDate = r.Until.Format(dateLayout)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a frequency-tagged object into the matching variant.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var wire ruleWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	interval := wire.Interval
	if interval == 0 {
		interval = 1
	}

	switch wire.Frequency {
	case FrequencyDaily:
		r.Pattern = Daily{Interval: interval}
	case FrequencyWeekly:
		weekly := Weekly{Interval: interval}
		for _, day := range wire.DaysOfWeek {
			if day < 0 || day > 6 {
				return fmt.Errorf("recurrence: weekday %d out of range", day)
			}
			weekly.Weekdays = append(weekly.Weekdays, time.Weekday(day))
		}
		r.Pattern = weekly
	case FrequencyMonthly:
		r.Pattern = Monthly{Interval: interval}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrequency, wire.Frequency)
	}

	r.Count = wire.Occurrences
	r.Until = nil
	if wire.EndDate != "" {
		until, err := time.Parse(dateLayout, wire.EndDate)
		if err != nil {
			return fmt.Errorf("recurrence: invalid end_date: %w", err)
		}
		r.Until = &until
	}
	return nil
}
