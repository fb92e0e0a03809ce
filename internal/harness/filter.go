package harness

import (
	"fmt"
	"regexp"
	"strings"
)

// OutputFilter strips known-benign diagnostics from captured output.
type OutputFilter struct {
	patterns []*regexp.Regexp
}

// NewOutputFilter compiles each pattern as a regular expression. An empty
// list yields a filter that only trims whitespace.
func NewOutputFilter(patterns []string) (*OutputFilter, error) {
	f := &OutputFilter{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid output filter %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Apply removes every match of every pattern, then trims surrounding whitespace.
func (f *OutputFilter) Apply(output string) string {
	for _, re := range f.patterns {
		output = re.ReplaceAllLiteralString(output, "")
	}
	return strings.TrimSpace(output)
}
