package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRefPattern matches ${env://NAME} and ${env://NAME:-fallback}.
var envRefPattern = regexp.MustCompile(`\$\{env://([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// MissingEnvError reports environment references that had neither a value
// nor a fallback.
type MissingEnvError struct {
	Names []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("environment variable substitution failed: %s not set", strings.Join(e.Names, ", "))
}

// ExpandEnv replaces every ${env://NAME} reference in content with the value
// of NAME. A reference with a ":-fallback" part uses the fallback when NAME is
// empty or unset. Unresolved references are left in place and reported
// together in a *MissingEnvError.
func ExpandEnv(content string) (string, error) {
	var missing []string

	expanded := envRefPattern.ReplaceAllStringFunc(content, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		name := groups[1]

		if v := os.Getenv(name); v != "" {
			return v
		}
		if strings.Contains(ref, ":-") {
			return groups[2]
		}

		missing = append(missing, name)
		return ref
	})

	if len(missing) > 0 {
		return "", &MissingEnvError{Names: missing}
	}
	return expanded, nil
}

// HasEnvRefs reports whether content contains any ${env://...} reference.
func HasEnvRefs(content string) bool {
	return envRefPattern.MatchString(content)
}
