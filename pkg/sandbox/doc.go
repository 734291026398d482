/*
Package sandbox turns command verbs into whitelisted subprocesses.

A node never runs a command line taken from a request. The agent names a
verb, the sandbox looks it up in a fixed table, validates the resulting
argument vector and only then starts a process.

# Architecture

	┌────────────────────────────────────────────────┐
	│ Sandbox.Execute(ctx, verb, params)             │
	└───────────────────────┬────────────────────────┘
	                        ▼
	┌────────────────────────────────────────────────┐
	│ Resolver.Resolve                               │
	│   verb -> program + args (service, container)  │
	│   unknown verb -> ErrCommandRejected           │
	└───────────────────────┬────────────────────────┘
	                        ▼
	┌────────────────────────────────────────────────┐
	│ ExecutionRequest.Validate                      │
	│   program in {docker, docker-compose}          │
	│   every arg passes SanitizeArg                 │
	└───────────────────────┬────────────────────────┘
	                        ▼
	┌────────────────────────────────────────────────┐
	│ Runner.Run under context.WithTimeout           │
	│   ExecRunner: os/exec, no shell                │
	└────────────────────────────────────────────────┘

# Verbs

Each verb maps to one fixed command line against the managed proxy:

	restart      docker-compose restart <service>
	set-config   docker-compose restart <service>
	get-logs     docker logs --tail <n> <container>
	get-stats    docker ps --all --no-trunc

set-config restarts the proxy after the agent has written the new config
file; the sandbox itself never touches the file system. The service and
container names are fixed when the Resolver is built and must pass the
same argument rules as everything else, so NewResolver fails on a bad
configuration instead of at the first command.

# Argument Rules

Only docker and docker-compose may run. Every argument must match

	^[a-zA-Z0-9_\-./]+$

and must not contain ".." or "//". The log line count is the only value
taken from the request:

  - integers above MaxLogLines (1000) are clamped to it
  - zero, negative, fractional or missing values fall back to
    DefaultLogLines (100)
  - strings must pass SanitizeArg first, so "../../etc/passwd" is rejected
    rather than defaulted

# Execution

Processes are started directly with exec.CommandContext and killed when
the timeout expires. The timeout defaults to DefaultTimeout and is
reported by Sandbox.Timeout so callers can size their own deadlines
around it. Stdout and stderr are captured separately in Result.

	resolver, _ := sandbox.NewResolver("xray", "xray-node-xray")
	sb := sandbox.New(resolver, nil, 30*time.Second)  // nil runner means ExecRunner
	res, err := sb.Execute(ctx, types.VerbGetLogs, sandbox.Params{"lines": 200})

# Errors

Rejected requests return ErrCommandRejected and never reach the Runner.
Any failure after validation returns ErrExecutionFailed, timeouts included.
The agent answers the first with 400 and the second with 500. Failed
commands are not retried.
*/
package sandbox
