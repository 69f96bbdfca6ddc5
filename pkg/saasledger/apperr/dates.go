package apperr

import "time"

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// ParseDate accepts an RFC 3339 timestamp or a bare calendar date and
// returns it in UTC. Anything else is a validation error naming field.
func ParseDate(field, value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, Validation("Invalid date", field+" must be a date (YYYY-MM-DD or RFC 3339)")
}
