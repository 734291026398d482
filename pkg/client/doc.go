/*
Package client provides the HTTP clients used on both sides of the fleet.

Client is used by the agent to talk to the coordinator: Register,
Heartbeat and FetchConfig. NodeClient is used by operators to send commands
to an agent. It adds a timestamp to every command, signs the canonical body
with the node's API secret and tags the request with an X-Request-ID.

A 401 from either side is returned as an error wrapping
security.ErrAuthentication. Other non-200 responses are returned as
*StatusError.

	nc, _ := client.NewNodeClient("http://203.0.113.10:8080", secret, nil, 0)
	resp, err := nc.Logs(ctx, 200)
*/
package client
