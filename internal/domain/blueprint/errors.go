package blueprint

import (
	"errors"
	"fmt"
)

var (
	ErrParse    = errors.New("blueprint parse error")
	ErrRatioSum = errors.New("category ratios must sum to 100")
	ErrNoFile   = errors.New("blueprint file not found")
)

// ParseError reports a malformed blueprint field. Template is the template
// name (or category) the field belongs to, when known.
type ParseError struct {
	Template string
	Field    string
	Msg      string
}

func (e *ParseError) Error() string {
	switch {
	case e.Template != "" && e.Field != "":
		return fmt.Sprintf("%s: %s: %s: %s", ErrParse, e.Template, e.Field, e.Msg)
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %s", ErrParse, e.Field, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", ErrParse, e.Msg)
	}
}

func (e *ParseError) Unwrap() error { return ErrParse }

// RatioSumError reports category ratios that do not total 100.
type RatioSumError struct {
	Total float64
}

func (e *RatioSumError) Error() string {
	return fmt.Sprintf("%s (got %.2f)", ErrRatioSum, e.Total)
}

func (e *RatioSumError) Unwrap() error { return ErrRatioSum }

func parseErrorf(template, field, format string, args ...any) *ParseError {
	return &ParseError{Template: template, Field: field, Msg: fmt.Sprintf(format, args...)}
}
