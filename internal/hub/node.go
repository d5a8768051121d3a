// Package hub provides the rendezvous relay transport: named pub/sub
// channels over which the handshake messages travel. It ships an in-process
// mock backend and a go-waku relay backend selected by the real_waku build
// tag; the protocol core only ever sees Subscribe and Broadcast.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	TransportMock   = "mock"
	TransportGoWaku = "go-waku"

	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDegraded     = "degraded"
)

var (
	// ErrTransport is fatal to the exchange in flight; the hub never retries
	// a protocol broadcast on the caller's behalf.
	ErrTransport = errors.New("relay transport failure")

	ErrNotConnected = errors.New("hub is not connected")
)

var runtimeStatusPollInterval = 1 * time.Second

type Config struct {
	Transport           string        `yaml:"transport"`
	Port                int           `yaml:"port"`
	AdvertiseAddress    string        `yaml:"advertiseAddress"`
	EnableRelay         bool          `yaml:"enableRelay"`
	EnableStore         bool          `yaml:"enableStore"`
	BootstrapNodes      []string      `yaml:"bootstrapNodes"`
	MinPeers            int           `yaml:"minPeers"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
}

type Status struct {
	State     string
	PeerCount int
	LastSync  time.Time
}

// Subscription is one attachment to a channel. C yields raw relay messages
// until Close, which is the protocol's cancellation primitive.
type Subscription struct {
	channel string
	ch      <-chan []byte
	once    sync.Once
	closeFn func()
}

func (s *Subscription) C() <-chan []byte { return s.ch }

func (s *Subscription) Channel() string { return s.channel }

func (s *Subscription) Close() {
	s.once.Do(s.closeFn)
}

type Node struct {
	mu      sync.RWMutex
	cfg     Config
	status  Status
	backend relayBackend
	metrics *nodeMetrics

	monitorCancel    context.CancelFunc
	monitorWG        sync.WaitGroup
	stateTransitions int
}

// relayBackend is implemented by the go-waku node when the real_waku build
// tag is on. The mock transport bypasses it and uses the in-process bus.
type relayBackend interface {
	Start(ctx context.Context, cfg Config) error
	Stop()
	PeerCount() int
	NetworkMetrics() map[string]int
	ApplyConfig(cfg Config)
	ListenAddresses() []string
	Subscribe(channel string, deliver func(payload []byte)) (func(), error)
	Publish(ctx context.Context, channel string, payload []byte) error
}

func DefaultConfig() Config {
	return Config{
		Transport:           TransportMock,
		Port:                60000,
		EnableRelay:         true,
		EnableStore:         true,
		MinPeers:            2,
		ReconnectInterval:   1 * time.Second,
		ReconnectBackoffMax: 30 * time.Second,
	}
}

func NewNode(cfg Config) *Node {
	cfg = normalizeConfig(cfg)
	return &Node{
		cfg:     cfg,
		metrics: defaultMetrics(),
		status: Status{
			State:     StateDisconnected,
			PeerCount: 0,
		},
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.MinPeers < 0 {
		cfg.MinPeers = 0
	}
	return cfg
}

func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.transitionStateLocked(StateConnecting)
	n.status.LastSync = time.Now()
	n.mu.Unlock()

	if n.cfg.Transport == TransportGoWaku {
		backend := newGoWakuBackend()
		if backend == nil {
			n.setDisconnected()
			return fmt.Errorf("%w: go-waku backend is not available in this build", ErrTransport)
		}
		if err := backend.Start(ctx, n.cfg); err != nil {
			n.setDisconnected()
			return fmt.Errorf("%w: %s", ErrTransport, err.Error())
		}
		peerCount, err := waitForStartupPeerCount(ctx, backend, n.cfg)
		if err != nil {
			n.setDisconnected()
			return err
		}
		n.mu.Lock()
		n.backend = backend
		n.transitionStateLocked(startupStateFromPeerCount(peerCount, n.cfg))
		n.status.PeerCount = peerCount
		n.status.LastSync = time.Now()
		n.mu.Unlock()
		n.startRuntimeMonitor()
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}

	n.mu.Lock()
	n.transitionStateLocked(StateConnected)
	n.status.PeerCount = estimatedPeers(n.cfg)
	n.status.LastSync = time.Now()
	n.mu.Unlock()
	return nil
}

func (n *Node) Stop(_ context.Context) error {
	n.stopRuntimeMonitor()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.backend != nil {
		n.backend.Stop()
		n.backend = nil
	}
	n.transitionStateLocked(StateDisconnected)
	n.status.PeerCount = 0
	n.status.LastSync = time.Now()
	return nil
}

func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s := n.status
	if n.backend != nil {
		s.PeerCount = n.backend.PeerCount()
	}
	return s
}

// Subscribe attaches to a named channel and streams its raw messages.
func (n *Node) Subscribe(channel string) (*Subscription, error) {
	if channel == "" {
		return nil, fmt.Errorf("%w: channel name is required", ErrTransport)
	}
	n.mu.RLock()
	state := n.status.State
	backend := n.backend
	n.mu.RUnlock()
	if state != StateConnected && state != StateDegraded {
		return nil, ErrNotConnected
	}

	if backend != nil {
		ch := make(chan []byte, subscriberBuffer)
		var deliverMu sync.Mutex
		closed := false
		unsubscribe, err := backend.Subscribe(channel, func(payload []byte) {
			deliverMu.Lock()
			defer deliverMu.Unlock()
			if closed {
				return
			}
			select {
			case ch <- payload:
				n.metrics.received.Inc()
			default:
				n.metrics.dropped.Inc()
			}
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrTransport, err.Error())
		}
		n.metrics.subscriptions.Inc()
		return &Subscription{channel: channel, ch: ch, closeFn: func() {
			unsubscribe()
			deliverMu.Lock()
			closed = true
			close(ch)
			deliverMu.Unlock()
			n.metrics.subscriptions.Dec()
		}}, nil
	}

	sub := globalBus.subscribe(channel)
	n.metrics.subscriptions.Inc()
	return &Subscription{channel: channel, ch: sub.ch, closeFn: func() {
		globalBus.unsubscribe(channel, sub)
		n.metrics.subscriptions.Dec()
	}}, nil
}

// Broadcast publishes payload on a channel. A nil return means the relay
// accepted the message for fan-out; the protocol gates persistence on it.
func (n *Node) Broadcast(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return fmt.Errorf("%w: channel name is required", ErrTransport)
	}
	n.mu.RLock()
	state := n.status.State
	backend := n.backend
	n.mu.RUnlock()
	if state != StateConnected && state != StateDegraded {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if backend != nil {
		if err := backend.Publish(ctx, channel, payload); err != nil {
			return fmt.Errorf("%w: %s", ErrTransport, err.Error())
		}
		n.metrics.published.Inc()
		return nil
	}

	_, dropped := globalBus.publish(channel, payload)
	n.metrics.published.Inc()
	if dropped > 0 {
		n.metrics.dropped.Add(float64(dropped))
	}
	return nil
}

func (n *Node) ListenAddresses() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.backend == nil {
		return nil
	}
	return append([]string(nil), n.backend.ListenAddresses()...)
}

func (n *Node) NetworkMetrics() map[string]int {
	n.mu.RLock()
	transitions := n.stateTransitions
	backend := n.backend
	n.mu.RUnlock()
	out := map[string]int{
		"network_state_transitions": transitions,
	}
	if backend != nil {
		for k, v := range backend.NetworkMetrics() {
			out[k] = v
		}
	}
	return out
}

func (n *Node) setDisconnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitionStateLocked(StateDisconnected)
	n.status.PeerCount = 0
	n.status.LastSync = time.Now()
}

func (n *Node) startRuntimeMonitor() {
	n.mu.Lock()
	if n.monitorCancel != nil {
		n.monitorCancel()
		n.monitorCancel = nil
	}
	monitorCtx, cancel := context.WithCancel(context.Background())
	n.monitorCancel = cancel
	n.monitorWG.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.monitorWG.Done()
		ticker := time.NewTicker(runtimeStatusPollInterval)
		defer ticker.Stop()

		// Update once immediately to avoid waiting one interval after startup.
		n.refreshRuntimeStatus()

		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				n.refreshRuntimeStatus()
			}
		}
	}()
}

func (n *Node) stopRuntimeMonitor() {
	n.mu.Lock()
	cancel := n.monitorCancel
	n.monitorCancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
		n.monitorWG.Wait()
	}
}

func (n *Node) refreshRuntimeStatus() {
	n.mu.RLock()
	backend := n.backend
	n.mu.RUnlock()
	if backend == nil {
		return
	}
	peerCount := backend.PeerCount()
	nextState := StateConnected
	if peerCount <= 0 {
		nextState = StateDegraded
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.State == StateDisconnected {
		return
	}
	if n.status.State != nextState || n.status.PeerCount != peerCount {
		n.transitionStateLocked(nextState)
		n.status.PeerCount = peerCount
		n.status.LastSync = time.Now()
	}
}

func (n *Node) transitionStateLocked(next string) {
	if next == "" {
		return
	}
	if n.status.State != next {
		n.stateTransitions++
		n.status.State = next
	}
}

func estimatedPeers(cfg Config) int {
	if len(cfg.BootstrapNodes) == 0 {
		return 1
	}
	if len(cfg.BootstrapNodes) > 12 {
		return 12
	}
	return len(cfg.BootstrapNodes)
}

func waitForStartupPeerCount(ctx context.Context, backend relayBackend, cfg Config) (int, error) {
	target := startupPeerTarget(cfg)
	peerCount := backend.PeerCount()
	if peerCount >= target {
		return peerCount, nil
	}

	timeout := startupHandshakeTimeout(cfg)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return backend.PeerCount(), ctx.Err()
		case <-timer.C:
			return backend.PeerCount(), nil
		case <-ticker.C:
			peerCount = backend.PeerCount()
			if peerCount >= target {
				return peerCount, nil
			}
		}
	}
}

func startupStateFromPeerCount(peerCount int, cfg Config) string {
	if peerCount >= startupPeerTarget(cfg) {
		return StateConnected
	}
	return StateDegraded
}

func startupPeerTarget(cfg Config) int {
	target := cfg.MinPeers
	if target <= 0 {
		target = 1
	}
	if len(cfg.BootstrapNodes) > 0 && target > len(cfg.BootstrapNodes) {
		target = len(cfg.BootstrapNodes)
	}
	if target < 1 {
		target = 1
	}
	return target
}

func startupHandshakeTimeout(cfg Config) time.Duration {
	base := cfg.ReconnectInterval
	if base <= 0 {
		base = time.Second
	}
	timeout := base * 5
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	if cfg.ReconnectBackoffMax > 0 && timeout > cfg.ReconnectBackoffMax {
		timeout = cfg.ReconnectBackoffMax
	}
	return timeout
}
