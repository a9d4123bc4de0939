package http

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxSlugLength       = 64
	MinPasswordLength   = 6
	MaxNameLength       = 128
	MaxMessageLength    = 4096
	MaxNotesLength      = 2000
	MaxPromptLength     = 50000 // For agent prompts
	MaxCredentialLength = 512
	MaxRoutingKeyLength = 128
	MaxColorLength      = 16
)

var errBadInput = errors.New("invalid input")

var (
	slugPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{3,8}$`)
)

// ValidSlug checks if a slug is safe (alphanumeric + underscore + hyphen)
func ValidSlug(s string) bool {
	if s == "" || len(s) > MaxSlugLength {
		return false
	}
	return slugPattern.MatchString(s)
}

// ValidColor accepts CSS hex colors; empty means "use the default"
func ValidColor(s string) bool {
	return s == "" || colorPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// TruncateString truncates to at most maxLen bytes without splitting a rune
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ValidateLength checks if string is within bounds
func ValidateLength(s string, min, max int) bool {
	l := len(s)
	return l >= min && l <= max
}

// cleanField sanitizes s and rejects it when longer than max
func cleanField(s string, max int) (string, error) {
	s = strings.TrimSpace(SanitizeString(s))
	if !ValidateLength(s, 0, max) {
		return "", errBadInput
	}
	return s, nil
}
