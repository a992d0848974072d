package provision

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password the form accepts.
const MinPasswordLength = 6

// Request is a tenant registration form submission.
type Request struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	RoomID          int64  `json:"room_id"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// Normalize trims text fields and lower-cases the email the way the backend stores it.
// Passwords are left untouched.
func (r Request) Normalize() Request {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = NormalizeEmail(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	return r
}

// NormalizeEmail returns the canonical form used for matching accounts.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the request locally. The returned error, if any, is a
// validation *Error naming the offending field.
func (r Request) Validate() error {
	r = r.Normalize()
	switch {
	case r.Name == "":
		return invalid("name", "name is required")
	case r.Email == "":
		return invalid("email", "email is required")
	case !validEmail(r.Email):
		return invalid("email", "email is not a valid address")
	case r.Phone == "":
		return invalid("phone", "phone is required")
	case r.RoomID <= 0:
		return invalid("room_id", "a room must be selected")
	case r.Password == "":
		return invalid("password", "password is required")
	case utf8.RuneCountInString(r.Password) < MinPasswordLength:
		return invalid("password", "password must be at least 6 characters")
	case r.PasswordConfirm == "":
		return invalid("password_confirm", "password confirmation is required")
	case r.Password != r.PasswordConfirm:
		return invalid("password_confirm", "passwords do not match")
	}
	return nil
}

// LinkRequest assigns a room to an already authenticated account.
type LinkRequest struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	RoomID int64  `json:"room_id"`
}

// Validate checks the link request locally.
func (r LinkRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return invalid("name", "name is required")
	case strings.TrimSpace(r.Phone) == "":
		return invalid("phone", "phone is required")
	case r.RoomID <= 0:
		return invalid("room_id", "a room must be selected")
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func invalid(field, msg string) *Error {
	return &Error{Kind: KindValidation, Step: StepValidate, Field: field, Message: msg}
}
