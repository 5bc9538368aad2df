package handler

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/personal-health-manager/internal/apperr"
)

// MsgInvalidRequest is the message of every 422 caused by the request body.
const MsgInvalidRequest = "Invalid request data"

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// RequestValidator adapts go-playground/validator to echo.Validator.
// Field names in errors use the json tag of the struct field.
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// bcrypt only looks at the first 72 bytes, so passwords are capped in bytes
	// rather than runes.
	_ = v.RegisterValidation("maxbytes", maxBytes)
	return &RequestValidator{v: v}
}

func maxBytes(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		panic("maxbytes: bad param " + fl.Param())
	}
	return len(fl.Field().String()) <= n
}

// Validate returns a Validation *apperr.Error listing every failed field.
func (rv *RequestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindValidation, MsgInvalidRequest, err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return apperr.Validation(MsgInvalidRequest).WithDetails(fields)
}

// bind decodes the request into dst and validates it.  Malformed bodies are
// reported as validation errors, like failed rules.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, MsgInvalidRequest, err).
			WithDetails([]FieldError{{Field: "body", Rule: "parse"}})
	}
	return c.Validate(dst)
}
