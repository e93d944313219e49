package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
)

// field is a form value that is prompted for when not supplied by flag.
type field struct {
	Title    string
	Value    *string
	Secret   bool
	Validate func(string) error
}

// promptMissing asks for every empty field in a single form. Without a
// terminal the missing fields are reported as an error instead.
func promptMissing(fields ...field) error {
	var missing []field
	for _, f := range fields {
		if strings.TrimSpace(*f.Value) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if !isInteractive() {
		names := make([]string, 0, len(missing))
		for _, f := range missing {
			names = append(names, strings.ToLower(f.Title))
		}
		return fmt.Errorf("missing %s", strings.Join(names, ", "))
	}

	inputs := make([]huh.Field, 0, len(missing))
	for _, f := range missing {
		input := huh.NewInput().
			Title(f.Title).
			Value(f.Value)
		if f.Secret {
			input = input.EchoMode(huh.EchoModePassword)
		}
		if f.Validate != nil {
			input = input.Validate(f.Validate)
		}
		inputs = append(inputs, input)
	}

	if err := huh.NewForm(huh.NewGroup(inputs...)).Run(); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}

	return nil
}

// isInteractive returns true if stdin is a terminal
func isInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

func notBlank(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("required")
	}
	return nil
}
