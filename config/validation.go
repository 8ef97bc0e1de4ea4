package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report koanf paths such as retry.maxattempts instead of Go field names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg and returns a *ConfigError per offending field,
// joined with errors.Join.
func Validate(cfg *Config) error {
	err := configValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, toConfigError(fe))
	}
	return errors.Join(errs...)
}

func toConfigError(fe validator.FieldError) *ConfigError {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "required", "required_if":
		envVar := DefaultEnvPrefix + strings.ToUpper(strings.ReplaceAll(field, ".", "_"))
		return NewMissingFieldError(field, envVar, field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %v", fe.Value()), strings.Fields(fe.Param()))
	case "http_url":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid url %q", fe.Value()), nil)
	case "gte", "lte":
		return NewValidationError(field, fmt.Sprintf("must be %s %s, got %v", boundWord(fe.Tag()), fe.Param(), fe.Value()))
	default:
		return NewValidationError(field, fmt.Sprintf("failed %q validation", fe.Tag()))
	}
}

func boundWord(tag string) string {
	if tag == "gte" {
		return "at least"
	}
	return "at most"
}
