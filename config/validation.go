package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/gaborage/webqueue/scheduler"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their config key rather than the Go field name
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
			_, err := scheduler.ParsePriority(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks cfg and returns the first failed rule as a *ConfigError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return NewValidationError("config", "configuration not initialized")
	}

	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	return toConfigError(verrs[0])
}

// toConfigError converts a validator failure into actionable guidance.
func toConfigError(fe validator.FieldError) *ConfigError {
	field := fieldPath(fe.Namespace())

	switch fe.Tag() {
	case "required":
		return NewMissingFieldError(field, envVarName(field), field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "priority":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid priority %q", fe.Value()),
			[]string{"dontcare", "low", "normal", "high", "critical"})
	case "gtefield":
		return NewValidationError(field, fmt.Sprintf("must not be less than %s", strings.ToLower(fe.Param())))
	case "url":
		return NewValidationError(field, "must be an absolute url")
	default:
		return NewValidationError(field, fmt.Sprintf("failed %s=%s check (got %v)", fe.Tag(), fe.Param(), fe.Value()))
	}
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func envVarName(field string) string {
	return DefaultEnvPrefix + strings.ToUpper(strings.ReplaceAll(field, ".", "_"))
}
