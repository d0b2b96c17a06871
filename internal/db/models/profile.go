// Package models - profile.go defines the actor profile owned by the surrounding academy
// application. The audit service only reads it to resolve an actor's role and branch.
package models

// Profile binds an authenticated user to a display name, a role and an optional branch
type Profile struct {
	UserID      string  `db:"user_id" json:"user_id"`
	DisplayName string  `db:"display_name" json:"display_name"`
	Role        string  `db:"role" json:"role"`
	BranchID    *string `db:"branch_id" json:"branch_id"` // nil for platform-level staff
}
