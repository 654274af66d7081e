package shadow

import (
	"fmt"
	"strings"
)

// Separator delimits the segments of a Path.
const Separator = "."

// Path is a dot-delimited hierarchical signal identifier,
// e.g. "Vehicle.Body.Door.FrontLeft.IsOpen".
type Path string

func (p Path) String() string { return string(p) }

// Segments splits p on Separator. The empty path has no segments.
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), Separator)
}

// Parent returns p without its last segment, or "" for a single-segment path.
func (p Path) Parent() Path {
	i := strings.LastIndex(string(p), Separator)
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Validate rejects empty paths and paths with empty segments.
func (p Path) Validate() error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidInput)
	}
	for _, s := range p.Segments() {
		if s == "" {
			return fmt.Errorf("%w: empty segment in path %q", ErrInvalidInput, string(p))
		}
	}
	return nil
}

// Paths converts plain strings to Paths.
func Paths(ss ...string) []Path {
	out := make([]Path, 0, len(ss))
	for _, s := range ss {
		out = append(out, Path(s))
	}
	return out
}
