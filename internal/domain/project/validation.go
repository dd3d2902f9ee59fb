package project

import (
	"regexp"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

// namePattern matches valid project names: lowercase, starts with a letter,
// alphanumeric plus hyphens. Length is checked separately for a clearer message.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

const (
	minNameLen = 3
	maxNameLen = 32
)

// ValidateName checks a project name against the naming rules. The name
// doubles as the Linux username and the systemd unit suffix, so the rules are
// strict.
func ValidateName(name string) error {
	if len(name) < minNameLen || len(name) > maxNameLen {
		return domain.Ef(domain.CodeInvalidProjectName,
			"project name %q must be %d-%d characters", name, minNameLen, maxNameLen).
			WithSuggestion("use lowercase letters, digits, and hyphens, starting with a letter")
	}
	if !namePattern.MatchString(name) {
		return domain.Ef(domain.CodeInvalidProjectName,
			"project name %q must start with a letter and contain only lowercase letters, digits, and hyphens", name).
			WithSuggestion("example: my-app, blog, api2")
	}
	return nil
}

// ValidateCreateRequest validates the fields of a project creation request.
func ValidateCreateRequest(req CreateRequest) error {
	if err := ValidateName(req.Name); err != nil {
		return err
	}
	if !req.Runtime.Valid() {
		return domain.Ef(domain.CodeInvalidProjectName,
			"unknown runtime %q", req.Runtime).
			WithSuggestion("supported runtimes: python, node, nextjs, static")
	}
	return nil
}
