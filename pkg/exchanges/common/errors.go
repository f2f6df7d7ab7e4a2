package common

import "fmt"

// VenueError is a non-2xx response from a venue, kept raw so callers can
// classify it.
type VenueError struct {
	Venue      string
	StatusCode int
	Code       int // venue-specific numeric code, 0 if absent
	Message    string
}

func (e *VenueError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Venue, e.Message)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s: status %d code %d: %s", e.Venue, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Venue, e.StatusCode, e.Message)
}
