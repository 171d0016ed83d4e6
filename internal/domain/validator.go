package domain

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

const messagesRequired = "Messages array is required and must not be empty"

// ParseCompletionRequest validates the raw request body and decodes it.
// The shape is checked on the raw document first so that every defect is
// reported with a readable reason rather than a decoder error.
func ParseCompletionRequest(body []byte) (*CompletionRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, NewValidationError("Invalid JSON body")
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, NewValidationError("Request body must be a JSON object")
	}

	if err := checkMessages(doc.Get("messages")); err != nil {
		return nil, err
	}

	if err := checkOptionalFields(doc); err != nil {
		return nil, err
	}

	var req CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewValidationError(fmt.Sprintf("Invalid request body: %v", err))
	}

	return &req, nil
}

// ValidateRequest checks a decoded request before any upstream call.
func ValidateRequest(req *CompletionRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return NewValidationError(messagesRequired)
	}

	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return NewValidationError(invalidRole(i))
		}
	}

	return nil
}

func checkMessages(messages gjson.Result) error {
	if !messages.IsArray() {
		return NewValidationError(messagesRequired)
	}

	items := messages.Array()
	if len(items) == 0 {
		return NewValidationError(messagesRequired)
	}

	for i, item := range items {
		if !item.IsObject() {
			return NewValidationError(fmt.Sprintf("messages[%d] must be an object", i))
		}

		role := item.Get("role")
		if role.Type != gjson.String || !Role(role.Str).Valid() {
			return NewValidationError(invalidRole(i))
		}

		if content := item.Get("content"); content.Type != gjson.String {
			return NewValidationError(fmt.Sprintf("messages[%d].content must be a string", i))
		}
	}

	return nil
}

func checkOptionalFields(doc gjson.Result) error {
	if model := doc.Get("model"); model.Exists() && model.Type != gjson.Null && model.Type != gjson.String {
		return NewValidationError("model must be a string")
	}

	if maxTokens := doc.Get("max_tokens"); maxTokens.Exists() && maxTokens.Type != gjson.Null {
		if maxTokens.Type != gjson.Number || maxTokens.Num != float64(int64(maxTokens.Num)) {
			return NewValidationError("max_tokens must be an integer")
		}
		if maxTokens.Num <= 0 {
			return NewValidationError("max_tokens must be positive")
		}
	}

	if temperature := doc.Get("temperature"); temperature.Exists() &&
		temperature.Type != gjson.Null && temperature.Type != gjson.Number {
		return NewValidationError("temperature must be a number")
	}

	if stream := doc.Get("stream"); stream.Exists() && stream.Type != gjson.Null && !stream.IsBool() {
		return NewValidationError("stream must be a boolean")
	}

	return nil
}

func invalidRole(index int) string {
	return fmt.Sprintf("messages[%d].role must be one of %s, %s, %s",
		index, RoleUser, RoleAssistant, RoleSystem)
}
