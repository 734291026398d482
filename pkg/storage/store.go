package storage

import (
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrNotFound is returned when a node lookup by id or token fails
	ErrNotFound = errors.New("node not found")

	// ErrTokenExists is returned when a token is already bound to another node
	ErrTokenExists = errors.New("token already in use")
)

// UpdateFunc mutates a node inside a single store transaction.
// Returning an error aborts the transaction and leaves the record unchanged.
type UpdateFunc func(node *types.Node) error

// Store defines the interface for coordinator node storage
type Store interface {
	// CreateNode assigns the next numeric ID and persists the node.
	// The node's token must be unique.
	CreateNode(node *types.Node) error
	GetNode(id uint64) (*types.Node, error)
	GetNodeByToken(token string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	DeleteNode(id uint64) error

	// UpdateNode reads the node by id, applies fn and writes it back atomically
	UpdateNode(id uint64, fn UpdateFunc) (*types.Node, error)

	// UpdateNodeByToken is UpdateNode keyed by the node's token
	UpdateNodeByToken(token string, fn UpdateFunc) (*types.Node, error)

	// Ping verifies the store is readable
	Ping() error

	Close() error
}
