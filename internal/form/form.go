// Package form holds the application form the assistant fills in through the
// update_form tool.
package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vui/internal/domain"
)

const ToolName = "update_form"

const (
	FieldName     = "name"
	FieldEmail    = "email"
	FieldLinkedIn = "linkedin"
	FieldGitHub   = "github"
	FieldNotes    = "notes"
	// TargetForm addresses every field at once.
	TargetForm = "form"
)

const (
	ActionWrite  = "write"
	ActionRead   = "read"
	ActionClear  = "clear"
	ActionSubmit = "submit"
)

var (
	fieldOrder     = []string{FieldName, FieldEmail, FieldLinkedIn, FieldGitHub, FieldNotes}
	requiredFields = []string{FieldName, FieldEmail}
)

var ErrNotReady = errors.New("required fields are missing")

// Form is the application being collected during the conversation.
type Form struct {
	values map[string]string
}

func New() *Form {
	return &Form{values: make(map[string]string, len(fieldOrder))}
}

// ToolInput is the decoded update_form argument object.
type ToolInput struct {
	Field  string `json:"field"`
	Action string `json:"action"`
	Value  string `json:"value"`
}

// Outcome is the result of one tool invocation.
type Outcome struct {
	Result  string
	IsError bool
	Changed bool
	// Submit is set when a submit action found every required field.
	Submit bool
}

// ParseInput decodes raw tool arguments.
func ParseInput(raw json.RawMessage) (ToolInput, error) {
	var input ToolInput
	if len(raw) == 0 {
		return input, errors.New("missing tool input")
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return input, fmt.Errorf("invalid tool input: %w", err)
	}
	input.Field = strings.ToLower(strings.TrimSpace(input.Field))
	input.Action = strings.ToLower(strings.TrimSpace(input.Action))
	return input, nil
}

// Apply executes one update_form invocation.
func (f *Form) Apply(input ToolInput) Outcome {
	switch input.Action {
	case ActionWrite:
		if !isField(input.Field) {
			return errorOutcome("Unknown field: %s", input.Field)
		}
		f.values[input.Field] = input.Value
		return Outcome{Result: fmt.Sprintf("Set %s to %q", input.Field, input.Value), Changed: true}
	case ActionRead:
		if input.Field == TargetForm {
			return Outcome{Result: f.describe()}
		}
		if !isField(input.Field) {
			return errorOutcome("Unknown field: %s", input.Field)
		}
		return Outcome{Result: fmt.Sprintf("%q", f.values[input.Field])}
	case ActionClear:
		if input.Field == TargetForm {
			f.values = make(map[string]string, len(fieldOrder))
			return Outcome{Result: "Form cleared", Changed: true}
		}
		if !isField(input.Field) {
			return errorOutcome("Unknown field: %s", input.Field)
		}
		delete(f.values, input.Field)
		return Outcome{Result: "Cleared " + input.Field, Changed: true}
	case ActionSubmit:
		if missing := f.Missing(); len(missing) > 0 {
			return errorOutcome("Cannot submit: %s required", strings.Join(missing, " and "))
		}
		return Outcome{Result: "Form submitted", Submit: true}
	default:
		return errorOutcome("Unknown action: %s", input.Action)
	}
}

// Ready reports whether every required field has a non-blank value.
func (f *Form) Ready() bool {
	return len(f.Missing()) == 0
}

// Missing lists required fields that are still blank.
func (f *Form) Missing() []string {
	var missing []string
	for _, field := range requiredFields {
		if strings.TrimSpace(f.values[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// Snapshot copies every field, blank ones included.
func (f *Form) Snapshot() map[string]string {
	out := make(map[string]string, len(fieldOrder))
	for _, field := range fieldOrder {
		out[field] = f.values[field]
	}
	return out
}

func (f *Form) describe() string {
	lines := make([]string, 0, len(fieldOrder))
	for _, field := range fieldOrder {
		lines = append(lines, fmt.Sprintf("%s: %q", field, f.values[field]))
	}
	return strings.Join(lines, "\n")
}

func isField(name string) bool {
	for _, field := range fieldOrder {
		if field == name {
			return true
		}
	}
	return false
}

func errorOutcome(format string, args ...any) Outcome {
	return Outcome{Result: fmt.Sprintf(format, args...), IsError: true}
}

// Tool describes update_form to the generator.
func Tool() domain.ToolSchema {
	return domain.ToolSchema{
		Name: ToolName,
		Description: "Update the job application form. Use this to write, read, or clear form fields. " +
			"Fields: name (required), email (required), linkedin, github, notes. Use field 'form' with action " +
			"'clear' to reset all fields, 'read' to see all values, or 'submit' to submit the application.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"field": map[string]any{
					"type":        "string",
					"enum":        append(append([]string(nil), fieldOrder...), TargetForm),
					"description": "Which field to act on. 'form' targets the whole form.",
				},
				"action": map[string]any{
					"type":        "string",
					"enum":        []string{ActionWrite, ActionRead, ActionClear, ActionSubmit},
					"description": "What to do: write a value, read the current value, clear it, or submit.",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "The value to write (only used with action 'write').",
				},
			},
			"required": []string{"field", "action"},
		},
	}
}
