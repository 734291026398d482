package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/cuemby/burrow/pkg/types"
)

const (
	// DefaultLogLines is used when the requested line count is missing or unusable
	DefaultLogLines = 100
	// MaxLogLines caps the requested line count
	MaxLogLines = 1000
)

// Params is a decoded command body
type Params map[string]interface{}

// ExecutionRequest is a resolved program and argument vector
type ExecutionRequest struct {
	Verb    types.Verb
	Program string
	Args    []string
}

// Argv returns the full argument vector including the program
func (r ExecutionRequest) Argv() []string {
	return append([]string{r.Program}, r.Args...)
}

// Resolver maps verbs onto fixed command lines for one managed proxy
type Resolver struct {
	service   string
	container string
}

// NewResolver creates a resolver for the compose service and container name
// of the managed proxy. Both names must pass argument sanitization.
func NewResolver(service, container string) (*Resolver, error) {
	if err := SanitizeArg(service); err != nil {
		return nil, fmt.Errorf("service name: %w", err)
	}
	if err := SanitizeArg(container); err != nil {
		return nil, fmt.Errorf("container name: %w", err)
	}
	return &Resolver{service: service, container: container}, nil
}

// Resolve builds the execution request for verb. No verb builds a command
// line from free-form input; only the log line count is taken from params.
func (r *Resolver) Resolve(verb types.Verb, params Params) (ExecutionRequest, error) {
	switch verb {
	case types.VerbRestart, types.VerbSetConfig:
		return ExecutionRequest{
			Verb:    verb,
			Program: "docker-compose",
			Args:    []string{"restart", r.service},
		}, nil

	case types.VerbGetLogs:
		lines, err := LogLines(params["lines"])
		if err != nil {
			return ExecutionRequest{}, err
		}
		return ExecutionRequest{
			Verb:    verb,
			Program: "docker",
			Args:    []string{"logs", "--tail", strconv.Itoa(lines), r.container},
		}, nil

	case types.VerbGetStats:
		return ExecutionRequest{
			Verb:    verb,
			Program: "docker",
			Args:    []string{"ps", "--all", "--no-trunc"},
		}, nil

	default:
		return ExecutionRequest{}, fmt.Errorf("%w: unknown verb %q", ErrCommandRejected, verb)
	}
}

// Container returns the managed container name
func (r *Resolver) Container() string {
	return r.container
}

// LogLines turns a requested line count into a safe value. Values above
// MaxLogLines are clamped; missing, non-positive or non-integer values fall
// back to DefaultLogLines. String values must first pass argument
// sanitization, so traversal attempts are rejected rather than defaulted.
func LogLines(v interface{}) (int, error) {
	switch n := v.(type) {
	case nil:
		return DefaultLogLines, nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return clampLines(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return DefaultLogLines, nil
		}
		return clampFloatLines(f), nil
	case float64:
		return clampFloatLines(n), nil
	case int:
		return clampLines(int64(n)), nil
	case int64:
		return clampLines(n), nil
	case string:
		if err := SanitizeArg(n); err != nil {
			return 0, err
		}
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return DefaultLogLines, nil
		}
		return clampLines(i), nil
	default:
		return DefaultLogLines, nil
	}
}

func clampFloatLines(f float64) int {
	if math.IsNaN(f) || f != math.Trunc(f) {
		return DefaultLogLines
	}
	if f > MaxLogLines {
		return MaxLogLines
	}
	if f < 1 {
		return DefaultLogLines
	}
	return int(f)
}

func clampLines(n int64) int {
	switch {
	case n > MaxLogLines:
		return MaxLogLines
	case n < 1:
		return DefaultLogLines
	default:
		return int(n)
	}
}
