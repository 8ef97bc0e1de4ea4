package config

import (
	"fmt"
	"strings"
)

const (
	CategoryMissing = "missing"
	CategoryInvalid = "invalid"
)

// ConfigError describes one bad configuration field and how to fix it.
// Messages are lowercase.
//
//nolint:revive // config.ConfigError reads better at call sites than config.Error
type ConfigError struct {
	Category string // CategoryMissing or CategoryInvalid
	Field    string // koanf path, e.g. "retry.maxattempts"
	Message  string
	Action   string // what the operator should do, if known
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config_")
	b.WriteString(e.Category)
	b.WriteString(":")
	for _, part := range []string{e.Field, e.Message, e.Action} {
		if part != "" {
			b.WriteByte(' ')
			b.WriteString(part)
		}
	}
	return b.String()
}

// NewMissingFieldError reports a required field without a value
func NewMissingFieldError(field, envVar, yamlPath string) *ConfigError {
	return &ConfigError{
		Category: CategoryMissing,
		Field:    field,
		Message:  "required",
		Action:   fmt.Sprintf("set %s env var or add %s to config.yaml", envVar, yamlPath),
	}
}

// NewInvalidFieldError reports a value outside the accepted set
func NewInvalidFieldError(field, message string, validOptions []string) *ConfigError {
	err := &ConfigError{Category: CategoryInvalid, Field: field, Message: message}
	if len(validOptions) > 0 {
		err.Action = "must be one of: " + strings.Join(validOptions, ", ")
	}
	return err
}

// NewValidationError reports any other invalid value
func NewValidationError(field, message string) *ConfigError {
	return &ConfigError{Category: CategoryInvalid, Field: field, Message: message}
}
