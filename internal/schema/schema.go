// Package schema validates inbound protocol payloads against embedded JSON
// Schemas before they are decoded into typed values.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const (
	notificationSchema   = "session_notification.json"
	promptResponseSchema = "prompt_response.json"
)

// Validator holds the compiled schemas.
type Validator struct {
	notification   *jsonschema.Schema
	promptResponse *jsonschema.Schema
}

func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	for _, name := range []string{notificationSchema, promptResponseSchema} {
		data, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", name, err)
		}
	}
	notification, err := compiler.Compile(notificationSchema)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", notificationSchema, err)
	}
	promptResponse, err := compiler.Compile(promptResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", promptResponseSchema, err)
	}
	return &Validator{notification: notification, promptResponse: promptResponse}, nil
}

var defaultValidator = sync.OnceValues(New)

// Default returns the process-wide validator built from the embedded schemas.
func Default() *Validator {
	v, err := defaultValidator()
	if err != nil {
		panic(fmt.Sprintf("embedded schemas are invalid: %v", err))
	}
	return v
}

// ValidateNotification checks the params of a session/update notification.
func (v *Validator) ValidateNotification(raw []byte) error {
	return validate(v.notification, raw)
}

// ValidatePromptResponse checks the result of a session/prompt call.
func (v *Validator) ValidatePromptResponse(raw []byte) error {
	return validate(v.promptResponse, raw)
}

func validate(s *jsonschema.Schema, raw []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("invalid json: trailing data")
	}
	return s.Validate(doc)
}
