package handler

import (
	"github.com/go-playground/validator/v10"
)

// RequestValidator adapts go-playground/validator to Echo's Validator
// interface so handlers can call c.Validate on bound DTOs. Each request
// body has a statically defined schema (field set plus enum membership)
// expressed as struct tags; violations surface as 422 responses before any
// repository call runs.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator constructs the validator shared by all handlers.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

// Validate checks a bound request struct against its tags.
func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
