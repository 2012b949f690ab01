package automation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SolarEvent anchors an automation's trigger to sunrise or sunset
// instead of a fixed clock time.
type SolarEvent string

// Solar anchor events.
const (
	SolarNone    SolarEvent = ""
	SolarSunrise SolarEvent = "sunrise"
	SolarSunset  SolarEvent = "sunset"
)

// Valid reports whether e is a known solar event.
func (e SolarEvent) Valid() bool {
	switch e {
	case SolarNone, SolarSunrise, SolarSunset:
		return true
	}
	return false
}

// Automation is one scheduled device action.
//
// TriggerTime is local "HH:MM". When SolarEvent is set, TriggerTime is
// derived from the day's sunrise/sunset and rewritten daily; operator
// edits to it do not survive the next solar recompute.
type Automation struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	DeviceID string `json:"device_id"`

	TriggerTime string     `json:"trigger_time"`
	RepeatDays  []int      `json:"repeat_days,omitempty"` // Monday=1 .. Sunday=7; empty = one-shot
	SolarEvent  SolarEvent `json:"solar_event,omitempty"`

	// Action is the attribute payload executed on trigger, attribute
	// key to value (for example {"power": true, "brightness": 60}).
	Action map[string]any `json:"action"`

	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchesMinute reports whether the automation should fire at the given
// local time: the truncated minute equals TriggerTime and the weekday
// is in RepeatDays (an empty RepeatDays matches every day).
func (a *Automation) MatchesMinute(now time.Time) bool {
	if now.Format("15:04") != a.TriggerTime {
		return false
	}
	if len(a.RepeatDays) == 0 {
		return true
	}
	weekday := isoWeekday(now)
	for _, d := range a.RepeatDays {
		if d == weekday {
			return true
		}
	}
	return false
}

// isoWeekday converts Go's Sunday=0 convention to Monday=1 .. Sunday=7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ValidateTriggerTime checks an "HH:MM" trigger time string.
func ValidateTriggerTime(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTriggerTime, s)
	}
	return nil
}

// encodeRepeatDays serializes weekday numbers for storage
// ("1,3,5"), sorted and deduplicated.
func encodeRepeatDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	seen := make(map[int]struct{}, len(days))
	uniq := make([]int, 0, len(days))
	for _, d := range days {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		uniq = append(uniq, d)
	}
	sort.Ints(uniq)

	parts := make([]string, len(uniq))
	for i, d := range uniq {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// decodeRepeatDays parses the stored weekday list.
func decodeRepeatDays(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d < 1 || d > 7 {
			return nil, fmt.Errorf("%w: repeat day %q", ErrInvalidRepeatDays, p)
		}
		days = append(days, d)
	}
	return days, nil
}
