package shadow

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestPathSegments(t *testing.T) {
	p := Path("Vehicle.Body.Door.IsOpen")
	got := p.Segments()
	if len(got) != 4 || got[0] != "Vehicle" || got[3] != "IsOpen" {
		t.Fatalf("Segments: got %v", got)
	}
	if p.Parent() != "Vehicle.Body.Door" {
		t.Fatalf("Parent: got %q", p.Parent())
	}
	if Path("Vehicle").Parent() != "" {
		t.Fatalf("Parent of root should be empty")
	}
	if Path("").Segments() != nil {
		t.Fatalf("empty path should have no segments")
	}
}

func TestPathValidate(t *testing.T) {
	for _, p := range []Path{"", "A..B", ".A", "A."} {
		if err := p.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Validate(%q): got %v want ErrInvalidInput", p, err)
		}
	}
	if err := Path("A.B").Validate(); err != nil {
		t.Fatalf("Validate(A.B): %v", err)
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		in   string
		kind string
	}{
		{"42", "number"},
		{"true", "bool"},
		{`"open"`, "string"},
		{"null", "null"},
	}
	for _, tc := range cases {
		v, err := ParseValue(tc.in)
		if err != nil {
			t.Fatalf("ParseValue(%s): %v", tc.in, err)
		}
		var kind string
		switch v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			kind = "number"
		case *structpb.Value_BoolValue:
			kind = "bool"
		case *structpb.Value_StringValue:
			kind = "string"
		case *structpb.Value_NullValue:
			kind = "null"
		}
		if kind != tc.kind {
			t.Fatalf("ParseValue(%s): kind %s want %s", tc.in, kind, tc.kind)
		}
	}

	if _, err := ParseValue("not json"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ParseValue(not json): got %v want ErrInvalidInput", err)
	}
	if _, err := ParseValue("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ParseValue(blank): got %v want ErrInvalidInput", err)
	}
}

func TestFormatSignal(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st, err := NewState(true, ts)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	got := FormatSignal(&Signal{Path: "A.B", State: st})
	want := "A.B = true @ 2024-05-01T12:00:00Z"
	if got != want {
		t.Fatalf("FormatSignal: got %q want %q", got, want)
	}
	if got := FormatSignal(&Signal{Path: "A.B"}); got != "A.B = <unset>" {
		t.Fatalf("FormatSignal(unset): got %q", got)
	}
}
