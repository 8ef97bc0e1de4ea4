package modelproxy

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/gaborage/go-modelproxy/httpclient"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat conversation.
type Message struct {
	Role    string `json:"role" validate:"required"`
	Content string `json:"content"`
}

type messageList struct {
	Messages []Message `json:"messages" validate:"required,min=1,dive"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func messageValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			return name
		})
		validate.RegisterStructValidation(validateContent, messageList{})
	})
	return validate
}

// validateContent requires non-empty content everywhere except in a final
// assistant message, which the model is expected to complete.
func validateContent(sl validator.StructLevel) {
	list := sl.Current().Interface().(messageList)
	last := len(list.Messages) - 1
	for i, m := range list.Messages {
		if m.Content != "" || (i == last && m.Role == RoleAssistant) {
			continue
		}
		sl.ReportError(m.Content, fmt.Sprintf("messages[%d].content", i), "Content", "content", "")
	}
}

// ValidateMessages checks a conversation before it is sent. It fails on an
// empty list, on a message without a role, and on empty content anywhere but
// a trailing assistant message. The error is a KindValidation *httpclient.ClientError.
func ValidateMessages(messages []Message) error {
	err := messageValidator().Struct(messageList{Messages: messages})
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return httpclient.NewValidationError(err.Error(), "messages")
	}

	// report the earliest offending message, role before content
	first := slices.MinFunc(verrs, func(a, b validator.FieldError) int {
		return messageIndex(a) - messageIndex(b)
	})
	return toValidationError(first)
}

func toValidationError(fe validator.FieldError) error {
	idx := messageIndex(fe)
	switch {
	case idx < 0:
		return httpclient.NewValidationError("messages list cannot be empty", "messages")
	case fe.Tag() == "required":
		return httpclient.NewValidationError(
			fmt.Sprintf("message at index %d is missing 'role' field", idx),
			fmt.Sprintf("messages[%d].role", idx))
	default:
		return httpclient.NewValidationError(
			fmt.Sprintf("message at index %d has empty content; all messages must have non-empty content except for the optional final assistant message", idx),
			fmt.Sprintf("messages[%d].content", idx))
	}
}

// messageIndex extracts i from a namespace like "messageList.messages[i].role",
// returning -1 for errors on the list itself.
func messageIndex(fe validator.FieldError) int {
	ns := fe.Namespace()
	start := strings.IndexByte(ns, '[')
	end := strings.IndexByte(ns, ']')
	if start < 0 || end < start {
		return -1
	}
	idx, err := strconv.Atoi(ns[start+1 : end])
	if err != nil {
		return -1
	}
	return idx
}
