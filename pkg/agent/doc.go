/*
Package agent implements the node side of the fleet.

An Agent runs two things concurrently:

	┌────────────── heartbeat loop ──────────────┐
	│ unregistered: POST /api/node/register      │
	│   failure -> backoff 1s, 2s, 4s ... ±20%   │
	│   capped at the heartbeat interval         │
	│ registered:   POST /api/node/heartbeat     │
	│   fixed interval, failures only logged     │
	└───────────────────┬────────────────────────┘
	                    │ State (RWMutex)
	┌───────────────────▼────────────────────────┐
	│ command channel (Server)                   │
	│   POST /api/restart /api/config            │
	│        /api/logs    /api/stats             │
	│   X-Signature verified against the secret  │
	│   -> sandbox -> docker / docker-compose    │
	└────────────────────────────────────────────┘

# Registration

The agent registers with its bootstrap token and keeps the returned node
id and API secret in memory only. Right after the first successful
registration it seeds the proxy config: when nothing exists at ConfigPath
yet, it fetches the coordinator's stored config, writes it atomically and
restarts the proxy through the set-config verb. An existing file is never
overwritten, because it may carry a config pushed over the command channel.
Config problems are logged and do not undo the registration.

# Heartbeats

Once registered, the agent posts a heartbeat every interval with the proxy
stats gathered from docker ps. A failed heartbeat is logged and retried on
the next tick; the agent never re-registers on its own. Each tick runs
under recover so a panic cannot stop the loop.

# Command Channel

Until registration succeeds the node holds no secret and every signed
command is refused with 401. A command with a bad signature never reaches
the sandbox.

Request handling, in order:

 1. POST only, otherwise 405
 2. body read through http.MaxBytesReader; over 1 MiB answers 413
 3. body must be one JSON object, otherwise 400
 4. X-Signature checked against the held secret, otherwise 401
 5. with a replay window configured, the signed body must carry a numeric
    timestamp within that window of local time, otherwise 401
 6. the verb runs in the sandbox; rejected input is 400, a failed
    command is 500

Every response carries X-Request-ID, taken from the request or generated,
and every log line for the command carries it too. The server's write
deadline is the sandbox timeout plus a fixed grace period, so a slow but
legitimate command can still deliver its output.

	sb := sandbox.New(resolver, nil, cfg.CommandTimeout)
	a, _ := agent.New(agent.Config{Token: token}, coordinatorClient, sb)
	go a.Run(ctx)
	_ = agent.NewServer(a, mw).Start(":8080", tlsConfig)
*/
package agent
