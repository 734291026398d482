/*
Package manager implements the coordinator.

The Manager owns the node store and the credential issuer. It provisions
nodes, answers registration, heartbeat and config requests, and runs the
staleness sweeper that marks silent nodes offline.

Registration trades a bootstrap token for the node's numeric id, API secret,
hidden path and feature flags. It may be repeated; every call returns the
same credentials. Heartbeats and config fetches re-authenticate with the
node id and API secret, and a successful heartbeat marks the node online
and advances its last-seen time. Last-seen never moves backwards.

Unknown tokens and secret mismatches both surface as
security.ErrAuthentication, and requests missing required fields as
ErrMalformedInput.
*/
package manager
