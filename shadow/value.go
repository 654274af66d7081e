package shadow

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ParseValue decodes a JSON literal ("42", "true", "\"open\"", "null") into a Value.
func ParseValue(s string) (*structpb.Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidInput)
	}
	v := new(structpb.Value)
	if err := protojson.Unmarshal([]byte(s), v); err != nil {
		return nil, fmt.Errorf("%w: value %q: %v", ErrInvalidInput, s, err)
	}
	return v, nil
}

// ParseState decodes a JSON value and stamps it with ts.
func ParseState(s string, ts time.Time) (*State, error) {
	v, err := ParseValue(s)
	if err != nil {
		return nil, err
	}
	return &State{Value: v, Timestamp: ts}, nil
}

// FormatValue renders v as compact JSON. A nil value renders as "<unset>".
func FormatValue(v *structpb.Value) string {
	if v == nil {
		return "<unset>"
	}
	b, err := protojson.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return string(b)
}

// FormatSignal renders a signal as "path = value @ timestamp".
func FormatSignal(s *Signal) string {
	if s == nil {
		return ""
	}
	if s.State == nil {
		return fmt.Sprintf("%s = <unset>", s.Path)
	}
	if s.State.Timestamp.IsZero() {
		return fmt.Sprintf("%s = %s", s.Path, FormatValue(s.State.Value))
	}
	return fmt.Sprintf("%s = %s @ %s", s.Path, FormatValue(s.State.Value), s.State.Timestamp.UTC().Format(time.RFC3339Nano))
}
