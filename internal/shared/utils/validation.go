package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mentora/engine/internal/shared/calendar"
)

// Size limits (in bytes)
const (
	MaxBlueprintSize = 1 * 1024 * 1024 // 1MB - maximum blueprint document size
)

// String length limits
const (
	MaxIDLength       = 128
	MaxNameLength     = 256
	MaxCategoryLength = 64
	MaxRangeDays      = 62
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores and dots
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	// ColorPattern matches #rgb and #rrggbb colours
	ColorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

// ValidateSize checks if a document is within limits
func ValidateSize(data []byte, max int) error {
	if len(data) > max {
		return fmt.Errorf("document size %d bytes exceeds maximum %d bytes", len(data), max)
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, dots, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateName validates a name field
func ValidateName(name, fieldName string) error {
	return ValidateString(name, fieldName, 1, MaxNameLength, true)
}

// ValidateCategory validates a category name
func ValidateCategory(category string) error {
	return ValidateString(category, "category", 1, MaxCategoryLength, true)
}

// ValidateColor validates a #hex colour
func ValidateColor(color string) error {
	if !ColorPattern.MatchString(color) {
		return fmt.Errorf("invalid colour %q", color)
	}
	return nil
}

// ValidateDate parses and validates a YYYY-MM-DD field
func ValidateDate(value, fieldName string) (calendar.Date, error) {
	if value == "" {
		return calendar.Date{}, fmt.Errorf("%s is required", fieldName)
	}
	d, err := calendar.ParseDate(value)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("%s: %w", fieldName, err)
	}
	return d, nil
}

// ValidateRangeDays checks a requested day count
func ValidateRangeDays(days int) error {
	if days < 1 || days > MaxRangeDays {
		return fmt.Errorf("days must be between 1 and %d", MaxRangeDays)
	}
	return nil
}

// Slug lowercases s and replaces runs of non-alphanumerics with a hyphen.
func Slug(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
