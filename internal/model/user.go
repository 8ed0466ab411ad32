// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a local account. It may be reached through a password login or any
// number of linked provider identities.
//
// Email is stored normalized (see normalize.Email) and is unique.
// Phone is E.164 and nil when the account was created through a provider.
// PasswordHash is empty for accounts that have never set a password; such
// accounts can only sign in through a provider.
type User struct {
	ID           string     `json:"id"        db:"id"`
	Email        string     `json:"email"     db:"email"`
	FirstName    string     `json:"firstName" db:"first_name"`
	LastName     string     `json:"lastName"  db:"last_name"`
	Phone        *string    `json:"phone"     db:"phone"`
	PasswordHash string     `json:"-"         db:"password_hash"`
	IsActive     bool       `json:"isActive"  db:"is_active"`
	IsStaff      bool       `json:"isStaff"   db:"is_staff"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	LastLogin    *time.Time `json:"lastLogin" db:"last_login"`
}

// MaxNameLength bounds FirstName and LastName, in characters.
const MaxNameLength = 150

// ProfileUpdate is a partial update of a user's name fields. Nil fields are
// left untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// Fields lists the column names the update touches, in a stable order.
func (u ProfileUpdate) Fields() []string {
	var fields []string
	if u.FirstName != nil {
		fields = append(fields, "first_name")
	}
	if u.LastName != nil {
		fields = append(fields, "last_name")
	}
	return fields
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil
}
