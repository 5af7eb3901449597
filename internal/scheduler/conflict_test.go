package scheduler

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func entry(id, trainerID string, day time.Time, start, end string) Entry {
	s, err := ParseClock(start)
	if err != nil {
		panic(err)
	}
	e, err := ParseClock(end)
	if err != nil {
		panic(err)
	}
	return Entry{ID: id, TrainerID: trainerID, Date: day, Start: s, End: e}
}

func TestParseClock(t *testing.T) {
	t.Run("valid values", func(t *testing.T) {
		cases := map[string]int{
			"00:00": 0,
			"09:00": 540,
			"14:30": 870,
			"23:59": 1439,
		}
		for value, want := range cases {
			got, err := ParseClock(value)
			if err != nil {
				t.Fatalf("ParseClock(%q) returned error: %v", value, err)
			}
			if got != want {
				t.Fatalf("ParseClock(%q) = %d, want %d", value, got, want)
			}
		}
	})

	t.Run("rejects malformed and out-of-range values", func(t *testing.T) {
		for _, value := range []string{"", "24:00", "12:60", "noon", "-1:30", "10:00xyz", "10:00 "} {
			if _, err := ParseClock(value); err == nil {
				t.Fatalf("ParseClock(%q) succeeded, want error", value)
			}
		}
	})

	t.Run("round-trips through FormatClock", func(t *testing.T) {
		if got := FormatClock(870); got != "14:30" {
			t.Fatalf("FormatClock(870) = %q, want %q", got, "14:30")
		}
	})
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name                   string
		aStart, aEnd           int
		bStart, bEnd           int
		want                   bool
	}{
		{"identical intervals", 540, 600, 540, 600, true},
		{"partial overlap", 540, 600, 570, 630, true},
		{"contained interval", 540, 720, 600, 660, true},
		{"back to back", 540, 600, 600, 660, false},
		{"disjoint", 540, 600, 720, 780, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
				t.Fatalf("Overlaps = %v, want %v", got, tc.want)
			}
			// The overlap relation is symmetric.
			if got := Overlaps(tc.bStart, tc.bEnd, tc.aStart, tc.aEnd); got != tc.want {
				t.Fatalf("Overlaps (swapped) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDetectConflicts(t *testing.T) {
	day := date(2025, time.February, 10)

	t.Run("overlapping schedule for the same trainer conflicts", func(t *testing.T) {
		existing := []Entry{entry("s1", "trainer-1", day, "14:30", "15:30")}
		candidate := entry("s2", "trainer-1", day, "14:00", "15:00")

		conflicts := DetectConflicts(existing, candidate, "")
		if len(conflicts) != 1 || conflicts[0].ID != "s1" {
			t.Fatalf("conflicts = %+v, want existing schedule s1", conflicts)
		}
	})

	t.Run("different trainer never conflicts", func(t *testing.T) {
		existing := []Entry{entry("s1", "trainer-2", day, "14:00", "15:00")}
		candidate := entry("s2", "trainer-1", day, "14:00", "15:00")

		if conflicts := DetectConflicts(existing, candidate, ""); len(conflicts) != 0 {
			t.Fatalf("conflicts = %+v, want none", conflicts)
		}
	})

	t.Run("different date never conflicts", func(t *testing.T) {
		existing := []Entry{entry("s1", "trainer-1", date(2025, time.February, 11), "14:00", "15:00")}
		candidate := entry("s2", "trainer-1", day, "14:00", "15:00")

		if conflicts := DetectConflicts(existing, candidate, ""); len(conflicts) != 0 {
			t.Fatalf("conflicts = %+v, want none", conflicts)
		}
	})

	t.Run("cancelled schedules are ignored", func(t *testing.T) {
		cancelled := entry("s1", "trainer-1", day, "14:00", "15:00")
		cancelled.Cancelled = true
		candidate := entry("s2", "trainer-1", day, "14:00", "15:00")

		if conflicts := DetectConflicts([]Entry{cancelled}, candidate, ""); len(conflicts) != 0 {
			t.Fatalf("conflicts = %+v, want none", conflicts)
		}
	})

	t.Run("excludeID skips the schedule being edited", func(t *testing.T) {
		existing := []Entry{entry("s1", "trainer-1", day, "14:00", "15:00")}
		candidate := entry("s1", "trainer-1", day, "14:15", "15:15")

		if conflicts := DetectConflicts(existing, candidate, "s1"); len(conflicts) != 0 {
			t.Fatalf("conflicts = %+v, want none", conflicts)
		}
	})

	t.Run("detection is symmetric for identical intervals", func(t *testing.T) {
		a := entry("a", "trainer-1", day, "09:00", "10:00")
		b := entry("b", "trainer-1", day, "09:30", "10:30")

		aAgainstB := len(DetectConflicts([]Entry{b}, a, "")) > 0
		bAgainstA := len(DetectConflicts([]Entry{a}, b, "")) > 0
		if aAgainstB != bAgainstA {
			t.Fatalf("asymmetric detection: a vs b = %v, b vs a = %v", aAgainstB, bAgainstA)
		}
	})
}
