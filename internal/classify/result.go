package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Classifier labels extracted content.
type Classifier interface {
	Classify(ctx context.Context, content, filename string) (Result, error)
}

// Result is the structured reply of the classification service.
type Result struct {
	Content  string `json:"content"`
	Label    string `json:"label"`
	Filename string `json:"filename"`

	// Raw is the JSON text as returned by the service.
	Raw string `json:"-"`
}

// Kind groups classification failures.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindStatus      Kind = "status"
	KindDecode      Kind = "decode"
	KindSchema      Kind = "schema"
	KindUnavailable Kind = "unavailable"
)

// Error is returned for every failed classification.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classify %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// decodeResult parses the service JSON. All three fields must be present
// and the label must be non-empty.
func decodeResult(text string) (Result, error) {
	var raw struct {
		Content  *string `json:"content"`
		Label    *string `json:"label"`
		Filename *string `json:"filename"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Result{}, &Error{Kind: KindDecode, Err: fmt.Errorf("parse result json: %w (raw: %s)", err, truncate(text, 200))}
	}

	var missing []string
	if raw.Content == nil {
		missing = append(missing, "content")
	}
	if raw.Label == nil {
		missing = append(missing, "label")
	}
	if raw.Filename == nil {
		missing = append(missing, "filename")
	}
	if len(missing) > 0 {
		return Result{}, &Error{Kind: KindSchema, Err: fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))}
	}
	if *raw.Label == "" {
		return Result{}, &Error{Kind: KindSchema, Err: fmt.Errorf("label is empty")}
	}

	return Result{
		Content:  *raw.Content,
		Label:    *raw.Label,
		Filename: *raw.Filename,
		Raw:      text,
	}, nil
}
