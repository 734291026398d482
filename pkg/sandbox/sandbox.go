package sandbox

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every subprocess unless configured otherwise
const DefaultTimeout = 30 * time.Second

// Sandbox resolves verbs to whitelisted command lines and runs them
type Sandbox struct {
	resolver *Resolver
	runner   Runner
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a sandbox. A nil runner selects ExecRunner.
func New(resolver *Resolver, runner Runner, timeout time.Duration) *Sandbox {
	if runner == nil {
		runner = ExecRunner{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{
		resolver: resolver,
		runner:   runner,
		timeout:  timeout,
		logger:   log.WithComponent("sandbox"),
	}
}

// Timeout returns the per-command execution limit
func (s *Sandbox) Timeout() time.Duration {
	return s.timeout
}

// Resolver returns the verb table in use
func (s *Sandbox) Resolver() *Resolver {
	return s.resolver
}

// Prepare resolves and validates a command without running it
func (s *Sandbox) Prepare(verb types.Verb, params Params) (ExecutionRequest, error) {
	req, err := s.resolver.Resolve(verb, params)
	if err != nil {
		return ExecutionRequest{}, err
	}
	if err := req.Validate(); err != nil {
		return ExecutionRequest{}, err
	}
	return req, nil
}

// Execute resolves, validates and runs verb. Validation failures return
// ErrCommandRejected before any process is spawned; failures of the process
// itself return ErrExecutionFailed. Failed runs are not retried.
func (s *Sandbox) Execute(ctx context.Context, verb types.Verb, params Params) (Result, error) {
	req, err := s.Prepare(verb, params)
	if err != nil {
		s.logger.Warn().Err(err).Str("verb", string(verb)).Msg("Command rejected")
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Debug().Strs("argv", req.Argv()).Msg("Executing command")
	result, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("verb", string(verb)).Msg("Command failed")
		return result, err
	}
	return result, nil
}
