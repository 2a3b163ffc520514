package http

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
)

// Reusable error payload
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
type ErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

var reHex32 = regexp.MustCompile(`^[a-f0-9]{32}$`)

type CustomValidator struct{ v *validator.Validate }

func NewValidator() *CustomValidator {
	v := validator.New()

	// pool id = 32-char lowercase hex
	_ = v.RegisterValidation("hex32", func(fl validator.FieldLevel) bool {
		return reHex32.MatchString(fl.Field().String())
	})
	// base-10 integer that fits in 256 bits
	_ = v.RegisterValidation("uint256", func(fl validator.FieldLevel) bool {
		_, err := parseAmount(fl.Field().String())
		return err == nil
	})
	// non-zero base-10 256-bit integer
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		a, err := parseAmount(fl.Field().String())
		return err == nil && !a.IsZero()
	})

	return &CustomValidator{v: v}
}

func (cv *CustomValidator) Validate(i any) error { return cv.v.Struct(i) }

var errBadAmount = errors.New("not a base-10 unsigned integer")

// parseAmount accepts plain decimal digits only; uint256.FromDecimal would
// also take a sign or leading zeros.
func parseAmount(s string) (*uint256.Int, error) {
	if s == "" || len(s) > 78 {
		return nil, errBadAmount
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, errBadAmount
		}
	}
	if len(s) > 1 && s[0] == '0' {
		return nil, errBadAmount
	}
	return uint256.FromDecimal(s)
}

// Map validator.ValidationErrors → []FieldError with readable messages.
func ToFieldErrors(err error) []FieldError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []FieldError{{Field: "_", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(ve))
	for _, e := range ve {
		field := e.Field()
		switch e.Tag() {
		case "required", "required_if":
			out = append(out, FieldError{Field: field, Message: "is required"})
		case "hex32":
			out = append(out, FieldError{Field: field, Message: "must be 32-char lowercase hex"})
		case "eth_addr":
			out = append(out, FieldError{Field: field, Message: "must be a 0x-prefixed 20-byte hex address"})
		case "uint256":
			out = append(out, FieldError{Field: field, Message: "must be a base-10 integer below 2^256"})
		case "amount":
			out = append(out, FieldError{Field: field, Message: "must be a positive base-10 integer"})
		case "uri":
			out = append(out, FieldError{Field: field, Message: "must be a URI"})
		case "gtfield":
			out = append(out, FieldError{Field: field, Message: "must be greater than " + e.Param()})
		case "gte":
			out = append(out, FieldError{Field: field, Message: "must be greater than or equal to " + e.Param()})
		case "lte":
			out = append(out, FieldError{Field: field, Message: "must be less than or equal to " + e.Param()})
		default:
			out = append(out, FieldError{Field: field, Message: e.Tag() + " validation failed"})
		}
	}
	return out
}
