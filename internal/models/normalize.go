package models

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail folds compatibility characters and case so that unique
// lookups match regardless of how the address was typed.
func NormalizeEmail(email string) string {
	email = norm.NFKC.String(strings.TrimSpace(email))
	return cases.Lower(language.Und).String(email)
}

// NormalizeProjectKey returns the canonical upper-case form of a project key.
func NormalizeProjectKey(key string) string {
	key = norm.NFKC.String(strings.TrimSpace(key))
	return cases.Upper(language.Und).String(key)
}
