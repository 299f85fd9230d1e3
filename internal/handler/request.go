package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// decodeJSON reads a JSON body into dst and validates it. Validation
// failures are returned as *domain.ValidationError.
func decodeJSON(w http.ResponseWriter, r *http.Request, validate *validator.Validate, op string, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return domain.Errorf(domain.ETOOLARGE, op, "Request body is too large")
		case errors.Is(err, io.EOF):
			return domain.Invalid(op, "Request body is required")
		default:
			return domain.Invalid(op, "Invalid JSON body")
		}
	}

	if err := validate.Struct(dst); err != nil {
		return &domain.ValidationError{Op: op, Fields: formatValidationErrors(err)}
	}
	return nil
}

// formatValidationErrors converts validator errors to a map keyed by the
// JSON field name.
func formatValidationErrors(err error) map[string]string {
	fields := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		fields["body"] = "body is invalid"
		return fields
	}

	for _, fieldError := range validationErrors {
		field := fieldError.Field()
		switch fieldError.Tag() {
		case "required":
			fields[field] = field + " is required"
		case "oneof":
			fields[field] = field + " must be one of: " + fieldError.Param()
		case "min":
			fields[field] = field + " must be at least " + fieldError.Param()
		default:
			fields[field] = field + " is invalid"
		}
	}
	return fields
}

// newValidator returns a validator that reports JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
