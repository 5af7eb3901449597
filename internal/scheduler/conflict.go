package scheduler

import (
	"fmt"
	"time"
)

// Entry is the minimal projection of a schedule needed for conflict checks.
type Entry struct {
	ID        string
	TrainerID string
	Date      time.Time
	Start     int
	End       int
	Cancelled bool
}

// ParseClock converts an "HH:MM" wall-clock string into minutes since midnight.
// The whole value must match the format; trailing text is rejected.
func ParseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid clock value %q", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// FormatClock renders minutes since midnight as an "HH:MM" string.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Overlaps reports whether two half-open [start, end) minute intervals intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// SameDate reports whether two timestamps fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DetectConflicts returns the existing entries that overlap the candidate for
// the same trainer on the same date. Cancelled entries never conflict, and the
// entry identified by excludeID is skipped so a schedule can be checked
// against an edited version of itself.
func DetectConflicts(existing []Entry, candidate Entry, excludeID string) []Entry {
	var conflicts []Entry
	for _, entry := range existing {
		if entry.Cancelled {
			continue
		}
		if excludeID != "" && entry.ID == excludeID {
			continue
		}
		if entry.TrainerID != candidate.TrainerID {
			continue
		}
		if !SameDate(entry.Date, candidate.Date) {
			continue
		}
		if Overlaps(entry.Start, entry.End, candidate.Start, candidate.End) {
			conflicts = append(conflicts, entry)
		}
	}
	return conflicts
}
