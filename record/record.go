// Package record defines candidate identity records and the import
// format they arrive in.
package record

import (
	"fmt"
	"time"
)

// DateFormat is the calendar date layout used throughout the import
// format and the provider protocol.
const DateFormat = "2006-01-02"

// Record is one candidate identity dossier. ServiceEnd may be empty;
// the provider decides whether that is acceptable. The engine never
// compares the two dates (provider decides validity).
type Record struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Branch       Branch `json:"branch"`
	ServiceStart string `json:"service_start"`
	ServiceEnd   string `json:"service_end,omitempty"`
	SourceLine   string `json:"-"`
}

// FullName returns "First Last" for logs and status events
func (r *Record) FullName() string {
	return fmt.Sprintf("%s %s", r.FirstName, r.LastName)
}

// ValidDate reports whether s is a valid YYYY-MM-DD calendar date
func ValidDate(s string) bool {
	_, err := time.Parse(DateFormat, s)
	return err == nil
}
