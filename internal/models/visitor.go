// Package models provides data model definitions for the check-in backend.
package models

// Visitor represents a single visitor check-in entry.
// ID is assigned client-side at creation time (milliseconds since epoch)
// and is the merge key across devices: two records with equal ID are the
// same logical visitor.
type Visitor struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Phone       string `db:"phone" json:"phone,omitempty"`
	IsFirstTime bool   `db:"is_first_time" json:"isFirstTime"`
	Date        string `db:"visit_date" json:"date"` // display format, dd/mm/yyyy
}

// TableName returns the table name for Visitor.
func (Visitor) TableName() string {
	return "visitors"
}
