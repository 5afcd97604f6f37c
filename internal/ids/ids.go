package ids

import (
	"time"

	"github.com/segmentio/ksuid"
)

// New returns a time-ordered, URL-safe identifier.
func New() string {
	return ksuid.New().String()
}

// Time returns the creation time embedded in an id produced by New.
func Time(id string) (time.Time, error) {
	parsed, err := ksuid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.Time(), nil
}
