package shared

import (
	"fmt"
	"strings"
	"time"
)

// LegacyDateLayout is the dd-MM-yyyy layout POS terminals send for bill dates.
const LegacyDateLayout = "02-01-2006"

var businessDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	LegacyDateLayout,
}

// ParseBusinessDate normalizes the accepted date spellings to a UTC time.Time.
// An empty value yields the zero time.
func ParseBusinessDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range businessDateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", ErrValidation, value)
}
