package coherence

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	segmentPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	columnPattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	cacheSpecPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*([:,][A-Za-z0-9_-]*)*$`)
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// entityValidator returns the shared validator with the entity rules registered:
//   - segment: usable as one cache namespace segment (no ":")
//   - column: a plain SQL identifier
//   - cachespec: `field[:aux,...]`
func entityValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		register := func(tag string, re *regexp.Regexp) {
			if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
				return re.MatchString(fl.Field().String())
			}); err != nil {
				panic(err)
			}
		}
		register("segment", segmentPattern)
		register("column", columnPattern)
		register("cachespec", cacheSpecPattern)
		validate = v
	})
	return validate
}

// ValidationError lists every field of an EntityConfig that failed validation.
type ValidationError struct {
	Entity string
	Errors []FieldError
}

// FieldError is one failed rule.
type FieldError struct {
	Field   string
	Message string
	Value   string
}

func (ve *ValidationError) Error() string {
	switch len(ve.Errors) {
	case 0:
		return fmt.Sprintf("coherence: invalid entity %q", ve.Entity)
	case 1:
		return fmt.Sprintf("coherence: invalid entity %q: %s", ve.Entity, ve.Errors[0].Message)
	default:
		return fmt.Sprintf("coherence: invalid entity %q: %d errors", ve.Entity, len(ve.Errors))
	}
}

func validateStruct(entity string, v any) error {
	err := entityValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := &ValidationError{Entity: entity, Errors: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, FieldError{
			Field:   fe.Namespace(),
			Message: message(fe),
			Value:   fmt.Sprintf("%v", fe.Value()),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must not be negative", fe.Field())
	case "segment":
		return fmt.Sprintf("%s may only contain letters, digits, '-' and '_'", fe.Field())
	case "column":
		return fmt.Sprintf("%s must be a column name", fe.Field())
	case "cachespec":
		return fmt.Sprintf("%s must look like field[:aux,...]", fe.Field())
	default:
		return fmt.Sprintf("%s failed validation", fe.Field())
	}
}
