// Package config loads workbench.yaml: command defaults for the parser,
// executor, file store, export and notification adapter.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches $${...} (escaped), ${NAME}, ${NAME:-default} and
// ${NAME:?message}.
var envRef = regexp.MustCompile(`\$(\$?)\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// MissingEnvError reports a ${NAME:?message} reference whose variable is
// unset or empty.
type MissingEnvError struct {
	Name    string
	Message string
}

func (e *MissingEnvError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("environment variable %s is required", e.Name)
	}
	return fmt.Sprintf("environment variable %s is required: %s", e.Name, e.Message)
}

// ExpandEnv substitutes environment references in input.
//
//	${NAME}            value, or "" when unset
//	${NAME:-default}   value, or default when unset or empty
//	${NAME:?message}   value, or a *MissingEnvError when unset or empty
//	$${NAME}           literal ${NAME}
//
// Every missing required variable is reported, not just the first.
func ExpandEnv(input string) (string, error) {
	var missing []string
	var firstErr *MissingEnvError

	out := envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		escaped, name, op, arg := m[1] != "", m[2], m[3], m[4]
		if escaped {
			return ref[1:]
		}

		value := os.Getenv(name)
		switch {
		case value != "":
			return value
		case op == ":-":
			return arg
		case op == ":?":
			if firstErr == nil {
				firstErr = &MissingEnvError{Name: name, Message: arg}
			}
			missing = append(missing, name)
		}
		return ""
	})

	switch len(missing) {
	case 0:
		return out, nil
	case 1:
		return "", firstErr
	default:
		return "", fmt.Errorf("%w (also missing: %s)", firstErr, strings.Join(missing[1:], ", "))
	}
}
