package match

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// ErrInvalidCriteria reports criteria that cannot be evaluated, such as an
// empty location list. Use errors.Is to detect it; the concrete error is a
// *ValidationError carrying per-field detail.
var ErrInvalidCriteria = errors.New("invalid criteria")

// ValidationError lists every criteria field that failed validation.
type ValidationError struct {
	Fields []domain.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid criteria"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid criteria: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidCriteria }
