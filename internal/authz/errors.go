package authz

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a structurally invalid role catalog. An engine is
// never built from a catalog that produced this error.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "authz: invalid catalog"
	}
	if len(e.Problems) == 1 {
		return "authz: invalid catalog: " + e.Problems[0]
	}
	return fmt.Sprintf("authz: invalid catalog (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigurationError) empty() bool {
	return len(e.Problems) == 0
}
