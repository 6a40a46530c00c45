package ids

import "github.com/segmentio/ksuid"

// New returns a k-sortable, globally unique identifier.
func New() string {
	return ksuid.New().String()
}

// Valid reports whether id parses as a ksuid.
func Valid(id string) bool {
	_, err := ksuid.Parse(id)
	return err == nil
}
