package agent

import (
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Snapshot is an immutable copy of the agent's registration state
type Snapshot struct {
	NodeID        uint64
	APISecret     string
	HiddenPath    string
	Features      types.FeatureConfig
	Registered    bool
	LastHeartbeat time.Time
	ProxyStatus   types.ProxyStatus
}

// State is the node-local registration state shared by the heartbeat loop
// and the command handlers. It lives only in memory.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState returns an unregistered state with unknown proxy status
func NewState() *State {
	return &State{snap: Snapshot{ProxyStatus: types.ProxyStatusUnknown}}
}

// Snapshot returns a copy of the current state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Secret returns the held API secret, empty while unregistered
func (s *State) Secret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.APISecret
}

// SetRegistered stores the identity returned by the coordinator. Identity,
// secret and the registered flag change together.
func (s *State) SetRegistered(resp *types.RegisterResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.NodeID = resp.NodeID
	s.snap.APISecret = resp.APISecret
	s.snap.HiddenPath = resp.HiddenPath
	s.snap.Features = resp.Config
	s.snap.Registered = true
}

// MarkHeartbeat records a successful heartbeat
func (s *State) MarkHeartbeat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastHeartbeat = at
}

// SetProxyStatus records the last observed proxy status
func (s *State) SetProxyStatus(status types.ProxyStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ProxyStatus = status
}
