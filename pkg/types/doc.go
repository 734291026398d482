// Package types defines the node record and the wire types shared by the
// coordinator, the agent and the client.
package types
