package hue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Result is one entry of a bridge write response. It is either a Success or
// a *BridgeError.
type Result interface {
	isResult()
}

// Success carries the property paths the bridge confirmed. Some operations
// confirm with a bare string instead of an object; that ends up in Text.
type Success struct {
	Values map[string]json.RawMessage
	Text   string
}

func (Success) isResult() {}

// Results is the parsed form of a write response.
type Results []Result

// Errors returns the error entries in response order.
func (r Results) Errors() []*BridgeError {
	var errs []*BridgeError
	for _, res := range r {
		if be, ok := res.(*BridgeError); ok {
			errs = append(errs, be)
		}
	}
	return errs
}

// Successes merges every success map into one. Later entries win on key
// collisions, which the bridge does not produce in practice.
func (r Results) Successes() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for _, res := range r {
		if s, ok := res.(Success); ok {
			for k, v := range s.Values {
				out[k] = v
			}
		}
	}
	return out
}

// HasSuccessText reports whether any success entry is the given string.
func (r Results) HasSuccessText(text string) bool {
	for _, res := range r {
		if s, ok := res.(Success); ok && s.Text == text {
			return true
		}
	}
	return false
}

// FirstError returns the first bridge error, or nil.
func (r Results) FirstError() error {
	if errs := r.Errors(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

type rawResult struct {
	Success json.RawMessage `json:"success"`
	Error   *BridgeError    `json:"error"`
}

// ParseResults decodes a `[{"success":...},{"error":...}]` response.
func ParseResults(body string) (Results, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty body", ErrUnexpectedResponse)
	}

	var raw []rawResult
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}

	results := make(Results, 0, len(raw))
	for _, item := range raw {
		switch {
		case item.Error != nil:
			results = append(results, item.Error)
		case len(item.Success) > 0:
			s, err := decodeSuccess(item.Success)
			if err != nil {
				return nil, err
			}
			results = append(results, s)
		default:
			return nil, fmt.Errorf("%w: entry without success or error", ErrUnexpectedResponse)
		}
	}
	return results, nil
}

func decodeSuccess(raw json.RawMessage) (Success, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return Success{}, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		return Success{Text: text}, nil
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return Success{}, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return Success{Values: values}, nil
}

// ErrorResponse classifies a GET response. The bridge answers reads with the
// requested document, or with an array made only of error entries.
func ErrorResponse(body string) *BridgeError {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "[") || !strings.Contains(trimmed, `"error"`) {
		return nil
	}
	var raw []rawResult
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil || len(raw) == 0 {
		return nil
	}
	for _, item := range raw {
		if item.Error == nil {
			return nil
		}
	}
	return raw[0].Error
}

// keyedRaw is one member of a JSON object, kept in document order.
type keyedRaw struct {
	Key   string
	Value json.RawMessage
}

// decodeOrderedObject splits a JSON object into its members without losing
// their order. A null or empty document yields no members.
func decodeOrderedObject(body string) ([]keyedRaw, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected object", ErrUnexpectedResponse)
	}

	var members []keyedRaw
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected key", ErrUnexpectedResponse)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		members = append(members, keyedRaw{Key: key, Value: value})
	}
	return members, nil
}
