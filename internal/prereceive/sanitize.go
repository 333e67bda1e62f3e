package prereceive

import (
	"fmt"
	"unicode"

	"github.com/MEKXH/pushgate/internal/action"
)

// SanitizeInput builds the single stdin line handed to the hook:
// "<commitFrom> <commitTo> <branch>\n".
//
// Values are never escaped. Anything containing whitespace or control
// characters is rejected so the three-field protocol cannot be desynchronized.
func SanitizeInput(a *action.Action) (string, error) {
	if a == nil {
		return "", fmt.Errorf("%w: action is nil", ErrUnsafeInput)
	}

	fields := []struct {
		name  string
		value string
	}{
		{"commit_from", a.CommitFrom},
		{"commit_to", a.CommitTo},
		{"branch", a.Branch},
	}
	for _, f := range fields {
		if err := checkField(f.name, f.value); err != nil {
			return "", err
		}
	}

	return a.CommitFrom + " " + a.CommitTo + " " + a.Branch + "\n", nil
}

func checkField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrUnsafeInput, name)
	}
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("%w: %s contains %q", ErrUnsafeInput, name, r)
		}
	}
	return nil
}
