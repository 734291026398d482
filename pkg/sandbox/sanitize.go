package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrCommandRejected is returned when a verb, program or argument fails
	// validation. Nothing has been executed when it is returned.
	ErrCommandRejected = errors.New("command rejected")

	// ErrExecutionFailed covers non-zero exit, timeout and spawn errors
	ErrExecutionFailed = errors.New("command execution failed")
)

var allowedArg = regexp.MustCompile(`^[a-zA-Z0-9_\-./]+$`)

// allowedPrograms is the closed set of executables a command may resolve to
var allowedPrograms = map[string]bool{
	"docker":         true,
	"docker-compose": true,
}

// SanitizeArg checks a single argument against the allow-pattern and
// rejects path traversal sequences
func SanitizeArg(arg string) error {
	if !allowedArg.MatchString(arg) {
		return fmt.Errorf("%w: invalid parameter %q", ErrCommandRejected, arg)
	}
	if strings.Contains(arg, "..") || strings.Contains(arg, "//") {
		return fmt.Errorf("%w: path traversal in parameter %q", ErrCommandRejected, arg)
	}
	return nil
}

// IsAllowedProgram reports whether program is in the executable whitelist
func IsAllowedProgram(program string) bool {
	return allowedPrograms[program]
}

// Validate checks a request before it is handed to a Runner
func (r ExecutionRequest) Validate() error {
	if r.Program == "" {
		return fmt.Errorf("%w: empty command", ErrCommandRejected)
	}
	if !IsAllowedProgram(r.Program) {
		return fmt.Errorf("%w: program not allowed: %s", ErrCommandRejected, r.Program)
	}
	for _, arg := range r.Args {
		if err := SanitizeArg(arg); err != nil {
			return err
		}
	}
	return nil
}
