package crew

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Interpolate replaces {name} placeholders with inputs[name]. Every
// missing name is reported in one ErrMissingInput.
func Interpolate(text string, inputs map[string]any) (string, error) {
	missing := make(map[string]struct{})
	out := placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := inputs[name]
		if !ok {
			missing[name] = struct{}{}
			return m
		}
		return fmt.Sprint(v)
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(names, ", "))
	}
	return out, nil
}
