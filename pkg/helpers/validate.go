package helpers

import (
	"context"
	"reflect"
	"strings"

	"mdoccore/pkg/trace"

	"github.com/go-playground/validator/v10"
)

// NewValidator creates a validator that reports struct fields by their
// json tag name rather than their Go field name.
func NewValidator() (*validator.Validate, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate, nil
}

// Check validates s against its struct tags, tracing the call on the
// given tracer.
func Check(ctx context.Context, tracer *trace.Tracer, s any) error {
	_, span := tracer.Start(ctx, "helpers:check")
	defer span.End()

	return CheckSimple(s)
}

// CheckSimple validates s against its struct tags without tracing.
func CheckSimple(s any) error {
	validate, err := NewValidator()
	if err != nil {
		return err
	}

	if err := validate.Struct(s); err != nil {
		return NewErrorFromError(err)
	}

	return nil
}
