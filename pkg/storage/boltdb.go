package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNodes  = []byte("nodes")
	bucketTokens = []byte("node_tokens")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketTokens} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping runs an empty read transaction
func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes) == nil {
			return fmt.Errorf("nodes bucket missing")
		}
		return nil
	})
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func putNode(tx *bolt.Tx, node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketNodes).Put(idKey(node.ID), data)
}

func getNode(tx *bolt.Tx, id uint64) (*types.Node, error) {
	data := tx.Bucket(bucketNodes).Get(idKey(id))
	if data == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	var node types.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func lookupToken(tx *bolt.Tx, token string) (uint64, error) {
	v := tx.Bucket(bucketTokens).Get([]byte(token))
	if v == nil {
		return 0, ErrNotFound
	}
	return binary.BigEndian.Uint64(v), nil
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	if node.Token == "" {
		return fmt.Errorf("node token cannot be empty")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		tokens := tx.Bucket(bucketTokens)
		if tokens.Get([]byte(node.Token)) != nil {
			return ErrTokenExists
		}

		id, err := tx.Bucket(bucketNodes).NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate node id: %w", err)
		}
		node.ID = id

		if err := tokens.Put([]byte(node.Token), idKey(id)); err != nil {
			return err
		}
		return putNode(tx, node)
	})
}

func (s *BoltStore) GetNode(id uint64) (*types.Node, error) {
	var node *types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		node, err = getNode(tx, id)
		return err
	})
	return node, err
}

func (s *BoltStore) GetNodeByToken(token string) (*types.Node, error) {
	var node *types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		id, err := lookupToken(tx, token)
		if err != nil {
			return err
		}
		node, err = getNode(tx, id)
		return err
	})
	return node, err
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(id uint64, fn UpdateFunc) (*types.Node, error) {
	var updated *types.Node
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		updated, err = applyUpdate(tx, id, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *BoltStore) UpdateNodeByToken(token string, fn UpdateFunc) (*types.Node, error) {
	var updated *types.Node
	err := s.db.Update(func(tx *bolt.Tx) error {
		id, err := lookupToken(tx, token)
		if err != nil {
			return err
		}
		updated, err = applyUpdate(tx, id, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyUpdate(tx *bolt.Tx, id uint64, fn UpdateFunc) (*types.Node, error) {
	node, err := getNode(tx, id)
	if err != nil {
		return nil, err
	}

	token := node.Token
	if err := fn(node); err != nil {
		return nil, err
	}

	// Identity fields are owned by the store
	node.ID = id
	node.Token = token

	if err := putNode(tx, node); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *BoltStore) DeleteNode(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		node, err := getNode(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTokens).Delete([]byte(node.Token)); err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Delete(idKey(id))
	})
}
