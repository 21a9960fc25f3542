package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-api/internal/models"
)

// cityPattern allows ASCII letters, whitespace, commas and hyphens.
var cityPattern = regexp.MustCompile(`^[a-zA-Z\s,-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("city", isCity); err != nil {
		panic(fmt.Sprintf("register city validation: %v", err))
	}
	return v
}

// isCity rejects whitespace-only names and anything outside cityPattern.
func isCity(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) == "" {
		return false
	}
	return cityPattern.MatchString(s)
}

// FieldError describes one rejected field of a WeatherQuery.
type FieldError struct {
	Field   string
	Message string
}

// Error lists every rejected field. Suitable for 422 responses.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// ValidateQuery checks the structural rules of a WeatherQuery: city is required,
// at most 100 characters and limited to letters, spaces, commas and hyphens;
// output_format must be json or xml. Returns *Error on failure.
func ValidateQuery(q models.WeatherQuery) error {
	err := validate.Struct(q)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "city":
		return "must contain only letters, spaces, commas and hyphens"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "failed " + fe.Tag() + " check"
	}
}
