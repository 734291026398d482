package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/sandbox"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const psOutput = `CONTAINER ID   IMAGE          COMMAND                  CREATED       STATUS                   PORTS     NAMES
4f1c2a9e       teddysun/xray  "/usr/bin/xray -config"  2 hours ago   Up 2 hours                         xray-node-xray
9b7d3e11       nginx          "nginx -g"               3 days ago    Exited (0) 3 days ago              web
`

// spyRunner records every request that reaches the execution boundary
type spyRunner struct {
	mu     sync.Mutex
	calls  []sandbox.ExecutionRequest
	result sandbox.Result
	err    error
}

func (s *spyRunner) Run(ctx context.Context, req sandbox.ExecutionRequest) (sandbox.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	return s.result, s.err
}

// Calls returns the recorded requests for verb
func (s *spyRunner) Calls(verb types.Verb) []sandbox.ExecutionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sandbox.ExecutionRequest
	for _, c := range s.calls {
		if c.Verb == verb {
			out = append(out, c)
		}
	}
	return out
}

func (s *spyRunner) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeCoordinator struct {
	mu           sync.Mutex
	resp         *types.RegisterResponse
	registerErr  error
	heartbeatErr error
	registers    int
	heartbeats   []types.ProxyStats
	panicOnCall  bool
	config       *types.ConfigResponse
	configErr    error
	fetches      int
}

func (f *fakeCoordinator) Register(ctx context.Context, token string) (*types.RegisterResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnCall {
		panic("boom")
	}
	f.registers++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.resp, nil
}

func (f *fakeCoordinator) Heartbeat(ctx context.Context, nodeID uint64, secret string, stats *types.ProxyStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heartbeatErr != nil {
		return f.heartbeatErr
	}
	f.heartbeats = append(f.heartbeats, *stats)
	return nil
}

func (f *fakeCoordinator) FetchConfig(ctx context.Context, nodeID uint64, secret string) (*types.ConfigResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.configErr != nil {
		return nil, f.configErr
	}
	if f.config == nil {
		return nil, errors.New("no config stored")
	}
	return f.config, nil
}

func newTestAgent(t *testing.T, runner sandbox.Runner, coord Coordinator) *Agent {
	t.Helper()
	resolver, err := sandbox.NewResolver("xray", "xray-node-xray")
	require.NoError(t, err)

	a, err := New(Config{
		Token:             "abc123",
		HeartbeatInterval: time.Minute,
		ConfigPath:        filepath.Join(t.TempDir(), "config", "config.json"),
	}, coord, sandbox.New(resolver, runner, time.Second))
	require.NoError(t, err)
	return a
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, &fakeCoordinator{}, nil)
	assert.Error(t, err)
}

func TestTickRegistersThenHeartbeats(t *testing.T) {
	runner := &spyRunner{result: sandbox.Result{Stdout: psOutput}}
	coord := &fakeCoordinator{resp: &types.RegisterResponse{NodeID: 1, APISecret: "s3cret", HiddenPath: "abcd"}}
	a := newTestAgent(t, runner, coord)

	a.tick(context.Background())

	snap := a.State().Snapshot()
	assert.True(t, snap.Registered)
	assert.Equal(t, uint64(1), snap.NodeID)
	assert.Equal(t, "s3cret", snap.APISecret)
	assert.Equal(t, types.ProxyStatusRunning, snap.ProxyStatus)
	assert.True(t, snap.LastHeartbeat.IsZero())
	assert.Equal(t, time.Minute, a.nextDelay())

	a.tick(context.Background())

	snap = a.State().Snapshot()
	assert.False(t, snap.LastHeartbeat.IsZero())
	require.Len(t, coord.heartbeats, 1)
	assert.Equal(t, types.ProxyStatusRunning, coord.heartbeats[0].XrayStatus)
	assert.Equal(t, 1, coord.registers)
	assert.Len(t, runner.Calls(types.VerbGetStats), 2)
}

func TestRegistrationInstallsCoordinatorConfig(t *testing.T) {
	runner := &spyRunner{result: sandbox.Result{Stdout: psOutput}}
	coord := &fakeCoordinator{
		resp:   &types.RegisterResponse{NodeID: 4, APISecret: "s"},
		config: &types.ConfigResponse{XrayConfig: `{"inbounds":[]}`, ConfigVersion: "1.0"},
	}
	a := newTestAgent(t, runner, coord)

	a.tick(context.Background())
	require.True(t, a.State().Snapshot().Registered)

	data, err := os.ReadFile(a.cfg.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, `{"inbounds":[]}`, string(data))
	assert.Len(t, runner.Calls(types.VerbSetConfig), 1)
	assert.Equal(t, 1, coord.fetches)
}

func TestRegistrationKeepsExistingConfig(t *testing.T) {
	runner := &spyRunner{result: sandbox.Result{Stdout: psOutput}}
	coord := &fakeCoordinator{
		resp:   &types.RegisterResponse{NodeID: 4, APISecret: "s"},
		config: &types.ConfigResponse{XrayConfig: `{"inbounds":[]}`},
	}
	a := newTestAgent(t, runner, coord)
	require.NoError(t, writeFileAtomic(a.cfg.ConfigPath, []byte(`{"local":true}`)))

	a.tick(context.Background())
	require.True(t, a.State().Snapshot().Registered)

	data, err := os.ReadFile(a.cfg.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, `{"local":true}`, string(data))
	assert.Zero(t, coord.fetches)
	assert.Empty(t, runner.Calls(types.VerbSetConfig))
}

func TestRegistrationSurvivesConfigProblems(t *testing.T) {
	tests := []struct {
		name  string
		coord *fakeCoordinator
	}{
		{"fetch error", &fakeCoordinator{configErr: errors.New("503")}},
		{"empty config", &fakeCoordinator{config: &types.ConfigResponse{}}},
		{"invalid config", &fakeCoordinator{config: &types.ConfigResponse{XrayConfig: "{not json"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &spyRunner{result: sandbox.Result{Stdout: psOutput}}
			tt.coord.resp = &types.RegisterResponse{NodeID: 5, APISecret: "s"}
			a := newTestAgent(t, runner, tt.coord)

			a.tick(context.Background())

			assert.True(t, a.State().Snapshot().Registered)
			assert.Equal(t, 1, tt.coord.fetches)
			assert.NoFileExists(t, a.cfg.ConfigPath)
			assert.Empty(t, runner.Calls(types.VerbSetConfig))
		})
	}
}

func TestTickRegistrationFailure(t *testing.T) {
	runner := &spyRunner{err: sandbox.ErrExecutionFailed}
	coord := &fakeCoordinator{registerErr: errors.New("connection refused")}
	a := newTestAgent(t, runner, coord)

	a.tick(context.Background())

	snap := a.State().Snapshot()
	assert.False(t, snap.Registered)
	assert.Empty(t, snap.APISecret)
	assert.Equal(t, types.ProxyStatusError, snap.ProxyStatus)
	assert.Equal(t, 1, a.failures)

	d := a.nextDelay()
	assert.GreaterOrEqual(t, d, 800*time.Millisecond)
	assert.LessOrEqual(t, d, 1200*time.Millisecond)

	a.tick(context.Background())
	assert.Equal(t, 2, coord.registers)
	assert.False(t, a.State().Snapshot().Registered)
}

func TestHeartbeatFailureKeepsRegistration(t *testing.T) {
	runner := &spyRunner{result: sandbox.Result{Stdout: psOutput}}
	coord := &fakeCoordinator{resp: &types.RegisterResponse{NodeID: 3, APISecret: "s"}}
	a := newTestAgent(t, runner, coord)

	a.tick(context.Background())
	coord.heartbeatErr = errors.New("503")
	a.tick(context.Background())

	snap := a.State().Snapshot()
	assert.True(t, snap.Registered)
	assert.True(t, snap.LastHeartbeat.IsZero())
}

func TestTickRecoversPanic(t *testing.T) {
	a := newTestAgent(t, &spyRunner{}, &fakeCoordinator{panicOnCall: true})

	assert.NotPanics(t, func() { a.tick(context.Background()) })
	assert.False(t, a.State().Snapshot().Registered)
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestAgent(t, &spyRunner{}, &fakeCoordinator{registerErr: errors.New("down")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		failures int
		max      time.Duration
		want     time.Duration
	}{
		{0, time.Minute, time.Second},
		{1, time.Minute, time.Second},
		{2, time.Minute, 2 * time.Second},
		{3, time.Minute, 4 * time.Second},
		{6, time.Minute, 32 * time.Second},
		{7, time.Minute, time.Minute},
		{1000, time.Minute, time.Minute},
		{3, 3 * time.Second, 3 * time.Second},
		{1, 500 * time.Millisecond, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(tt.failures, tt.max), "failures=%d max=%s", tt.failures, tt.max)
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := jitter(10 * time.Second)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}

func TestParseProxyStatus(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		container string
		want      types.ProxyStatus
	}{
		{"running", psOutput, "xray-node-xray", types.ProxyStatusRunning},
		{"exited", psOutput, "web", types.ProxyStatusStopped},
		{"absent", psOutput, "other", types.ProxyStatusUnknown},
		{"empty", "", "xray-node-xray", types.ProxyStatusUnknown},
		{"prefix only", psOutput, "xray-node", types.ProxyStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProxyStatus(tt.output, tt.container))
		})
	}
}

func TestStateSnapshotsAreConsistent(t *testing.T) {
	s := NewState()
	assert.Equal(t, types.ProxyStatusUnknown, s.Snapshot().ProxyStatus)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.SetProxyStatus(types.ProxyStatusRunning)
			s.MarkHeartbeat(time.Now())
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SetRegistered(&types.RegisterResponse{NodeID: 9, APISecret: "secret"})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := s.Snapshot()
			if snap.Registered {
				assert.Equal(t, uint64(9), snap.NodeID)
				assert.Equal(t, "secret", snap.APISecret)
			} else {
				assert.Zero(t, snap.NodeID)
				assert.Empty(t, snap.APISecret)
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.True(t, s.Snapshot().Registered)
	assert.Equal(t, "secret", s.Secret())
}
