package automation

import (
	"fmt"
	"strings"
	"time"
)

// Unit is the unit of a configured delay or timeout.
type Unit string

const (
	UnitSeconds Unit = "seconds"
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
)

// Duration converts value+unit into a duration. Singular unit names are
// accepted as well.
func Duration(value int, unit Unit) (time.Duration, error) {
	if value < 0 {
		return 0, fmt.Errorf("negative delay %d", value)
	}
	var base time.Duration
	switch Unit(strings.TrimSuffix(strings.ToLower(string(unit)), "s") + "s") {
	case UnitSeconds:
		base = time.Second
	case UnitMinutes:
		base = time.Minute
	case UnitHours:
		base = time.Hour
	case UnitDays:
		base = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown delay unit %q", unit)
	}
	return time.Duration(value) * base, nil
}
