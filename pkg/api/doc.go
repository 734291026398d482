/*
Package api serves the coordinator's node-facing HTTP API.

	POST /api/node/register   {"token"}                       -> credentials
	POST /api/node/heartbeat  {"node_id","api_secret",...}    -> {"status":"ok"}
	POST /api/node/config     {"node_id","api_secret"}        -> stored proxy config
	GET  /health, /ready, /metrics

Malformed bodies and missing fields are answered with 400. Every
authentication failure is a 401 carrying the same message. The node routes can be wrapped with per-client rate
limiting through NewServerWithMiddleware.
*/
package api
