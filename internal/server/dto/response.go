package dto

import "encoding/json"

// MessageError is the type of an error message.
const MessageError = "error"

// Message is a [text, type] pair.
type Message [2]string

// Envelope wraps every API response.
type Envelope struct {
	// Error is 1 when the request failed.
	Error    int       `json:"error"`
	Code     ErrorCode `json:"code"`
	Messages []Message `json:"messages"`
	Data     any       `json:"data"`

	// Details carries machine-readable error context, such as the rejected
	// field.
	Details map[string]any `json:"details,omitempty"`

	DebugMode   int `json:"debug_mode,omitempty"`
	TestingMode int `json:"testing_mode,omitempty"`
}

// NewEnvelope returns a successful envelope carrying data.
func NewEnvelope(data any) *Envelope {
	return &Envelope{Messages: []Message{}, Data: data}
}

// NewErrorEnvelope returns a failed envelope with a single error message.
func NewErrorEnvelope(code ErrorCode, message string) *Envelope {
	return &Envelope{
		Error:    1,
		Code:     code,
		Messages: []Message{{message, MessageError}},
		Data:     []any{},
	}
}

// SelectResult is the data of a successful select.
type SelectResult struct {
	// Items is the row itself when exactly one row matched, else the list of
	// rows.
	Items      any `json:"items"`
	ItemsCount int `json:"itemsCount"`

	// Rows always lists the matching rows.
	Rows []map[string]any `json:"-"`
}

// CommandResult is the outcome of a command. It marshals as the select
// result, or as 1 for the other commands.
type CommandResult struct {
	Command string
	Select  *SelectResult
	// Found is false when update or delete targeted an absent table.
	Found bool
}

// MarshalJSON implements json.Marshaler.
func (r *CommandResult) MarshalJSON() ([]byte, error) {
	if r.Select != nil {
		return json.Marshal(r.Select)
	}
	return []byte("1"), nil
}

// HealthResponse is a response from a health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
