// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package validation wraps go-playground/validator v10 behind a
// thread-safe singleton and translates failures into the API's
// VALIDATION_ERROR shape.
//
//	var req models.LocationUpdateRequest
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    api.WriteValidationError(w, verr)
//	    return
//	}
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single field violation.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// RequestValidationError aggregates field violations for one request body.
type RequestValidationError struct {
	Fields []FieldError
}

// Error joins the field messages; the first one is what 400 bodies show as
// `detail`.
func (ve *RequestValidationError) Error() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(ve.Fields))
	for i, fe := range ve.Fields {
		messages[i] = fe.Message
	}
	return strings.Join(messages, "; ")
}

// Detail returns the first violation message, for compact 400 responses.
func (ve *RequestValidationError) Detail() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	return ve.Fields[0].Message
}

// GetValidator returns the singleton validator.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates a tagged struct. Returns nil when the value
// passes.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &RequestValidationError{Fields: []FieldError{{
			Field: "request", Tag: "invalid", Message: err.Error(),
		}}}
	}

	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translate(fe),
		}
	}
	return &RequestValidationError{Fields: fields}
}

var simpleTemplates = map[string]string{
	"required": "%s is required",
	"email":    "%s must be a valid email address",
	"uuid4":    "%s must be a valid UUID",
}

var paramTemplates = map[string]string{
	"oneof":   "%s must be one of: %s",
	"gt":      "%s must be greater than %s",
	"lt":      "%s must be less than %s",
	"gte":     "%s must be at least %s",
	"lte":     "%s must be at most %s",
	"gtfield": "%s must be greater than %s",
	"len":     "%s must have exactly %s elements",
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	if tpl, ok := simpleTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tpl, field)
	}
	if tpl, ok := paramTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tpl, field, fe.Param())
	}

	isString := fe.Kind().String() == "string"
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
