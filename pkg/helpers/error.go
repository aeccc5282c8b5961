// Package helpers provides small cross-cutting utilities (struct
// validation, error formatting) shared by the mdoc core packages.
package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"mdoccore/pkg/model"
)

// NewErrorFromError normalizes an arbitrary error into a *model.Error,
// classifying known error shapes (validation, JSON) and otherwise
// defaulting to an unclassified internal error.
func NewErrorFromError(err error) *model.Error {
	if err == nil {
		return nil
	}

	var modelErr *model.Error
	if errors.As(err, &modelErr) {
		return modelErr
	}

	var unmarshalTypeError *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeError) {
		return model.NewErrorDetails(model.ErrInvalidEncoding, "json_type_error", formatJSONUnmarshalTypeError(unmarshalTypeError))
	}

	var syntaxError *json.SyntaxError
	if errors.As(err, &syntaxError) {
		return model.NewErrorDetails(model.ErrInvalidEncoding, "json_syntax_error", fmt.Sprintf("position %d: %s", syntaxError.Offset, syntaxError.Error()))
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return model.NewErrorDetails(model.ErrInvalidEncoding, "validation_error", formatValidationErrors(validationErrors))
	}

	return model.NewErrorDetails(model.ErrStorage, "internal_error", err.Error())
}

func formatValidationErrors(err validator.ValidationErrors) []map[string]any {
	v := make([]map[string]any, 0, len(err))
	for _, e := range err {
		splits := strings.SplitN(e.Namespace(), ".", 2)
		field := e.Namespace()
		if len(splits) > 1 {
			field = splits[1]
		}
		v = append(v, map[string]any{
			"field":           e.Field(),
			"namespace":       field,
			"type":            e.Kind().String(),
			"validation":      e.Tag(),
			"validationParam": e.Param(),
		})
	}
	return v
}

func formatJSONUnmarshalTypeError(err *json.UnmarshalTypeError) map[string]any {
	return map[string]any{
		"field":    err.Field,
		"expected": err.Type.Kind().String(),
		"actual":   err.Value,
	}
}
