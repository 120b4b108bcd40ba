// Package link owns the serial connection to the instrument. It frames the
// raw byte stream into lines, decodes samples, supervises link health with a
// two-phase watchdog, and schedules a single reconnection attempt after a
// fatal transport error.
package link

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voltscope/voltscope/pkg/model"
)

// Config holds tunables for the monitor. Zero values select the defaults.
type Config struct {
	// BaudRate for the serial port. Defaults to 115200.
	BaudRate int

	// InitialDataTimeout is how long after connect a first valid sample must
	// arrive before the link is declared failed. Defaults to 2s.
	InitialDataTimeout time.Duration

	// StaleTimeout is the steady-state watchdog interval: once data has
	// flowed, a gap longer than this declares the link stale. Defaults to 1s.
	StaleTimeout time.Duration

	// ReconnectDelay is the backoff before the single automatic reconnection
	// attempt after a transport error. Defaults to 3s.
	ReconnectDelay time.Duration

	// PortScanInterval is the cadence of the background port scan.
	// Defaults to 2s.
	PortScanInterval time.Duration

	// Open replaces the real serial opener in tests.
	Open Opener

	// Scan replaces the real port enumerator in tests.
	Scan func() ([]model.PortDescriptor, error)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.BaudRate <= 0 {
		c.BaudRate = 115200
	}
	if c.InitialDataTimeout <= 0 {
		c.InitialDataTimeout = 2 * time.Second
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.PortScanInterval <= 0 {
		c.PortScanInterval = 2 * time.Second
	}
	if c.Open == nil {
		c.Open = OpenSerial
	}
	if c.Scan == nil {
		c.Scan = ScanPorts
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// conn is the state of one open connection. A fresh conn is created on every
// Connect so goroutines from a torn-down connection cannot touch the new one.
type conn struct {
	port     Port
	name     string
	stop     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	startedAt time.Time
	lastData  time.Time
	dataSeen  bool
}

func (c *conn) close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.port.Close()
	})
}

// Monitor supervises the serial link and emits decoded samples.
type Monitor struct {
	cfg Config

	samples chan model.Sample
	status  chan model.ConnectionStatus
	ports   chan []model.PortDescriptor
	done    chan struct{}

	mu            sync.Mutex
	state         model.LinkState
	conn          *conn
	elapsed       float64
	lastTimestamp time.Time
	retryArmed    bool
	retryTimer    *time.Timer
	closed        bool
}

// New creates a monitor and starts its background port scanner.
func New(cfg Config) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		cfg:     cfg,
		samples: make(chan model.Sample, 1024),
		status:  make(chan model.ConnectionStatus, 16),
		ports:   make(chan []model.PortDescriptor, 4),
		done:    make(chan struct{}),
		state:   model.LinkDisconnected,
	}
	go m.scanLoop()
	return m
}

// Samples returns the decoded sample stream.
func (m *Monitor) Samples() <-chan model.Sample { return m.samples }

// Status returns the connection status event stream.
func (m *Monitor) Status() <-chan model.ConnectionStatus { return m.status }

// Ports returns the periodic port scan results.
func (m *Monitor) Ports() <-chan []model.PortDescriptor { return m.ports }

// State reports the current link state.
func (m *Monitor) State() model.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the named port and starts the decode loop and watchdog.
// An existing connection is torn down first. A successful external connect
// re-arms the single automatic reconnection attempt.
func (m *Monitor) Connect(portName string) error {
	return m.connect(portName, true)
}

func (m *Monitor) connect(portName string, external bool) error {
	m.Disconnect()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("monitor closed")
	}
	m.state = model.LinkConnecting
	m.mu.Unlock()

	port, err := m.cfg.Open(portName, m.cfg.BaudRate)
	if err != nil {
		m.setState(model.LinkDisconnected, false, fmt.Sprintf("failed to open port: %v", err))
		return fmt.Errorf("connect %s: %w", portName, err)
	}

	now := m.cfg.Now()
	c := &conn{
		port:      port,
		name:      portName,
		stop:      make(chan struct{}),
		startedAt: now,
	}

	m.mu.Lock()
	m.conn = c
	m.elapsed = 0
	m.lastTimestamp = now
	if external {
		m.retryArmed = true
	}
	m.mu.Unlock()

	m.setState(model.LinkConnected, true, fmt.Sprintf("connected to %s", portName))

	go m.readLoop(c)
	go m.watchdog(c)
	return nil
}

// Disconnect tears down the current connection and cancels any pending
// reconnection attempt. Safe to call when already disconnected.
func (m *Monitor) Disconnect() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()

	if c != nil {
		c.close()
		m.setState(model.LinkDisconnected, false, "disconnected")
	}
}

// Close shuts the monitor down entirely.
func (m *Monitor) Close() {
	m.Disconnect()
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	m.mu.Unlock()
}

func (m *Monitor) setState(s model.LinkState, connected bool, reason string) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	// Status events must never block the decode path.
	select {
	case m.status <- model.ConnectionStatus{Connected: connected, State: s, Reason: reason}:
	default:
	}
}

// readLoop reads raw bytes, buffers partial lines across reads, and decodes
// complete lines into samples.
func (m *Monitor) readLoop(c *conn) {
	buf := make([]byte, 4096)
	var pending strings.Builder

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		n, err := c.port.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			rest := m.drainLines(c, pending.String())
			pending.Reset()
			pending.WriteString(rest)
		}
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
			}
			m.failTransport(c, fmt.Sprintf("read error: %v", err))
			return
		}
	}
}

// drainLines processes every complete line in data and returns the
// unterminated remainder.
func (m *Monitor) drainLines(c *conn, data string) string {
	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			return data
		}
		line := data[:idx]
		data = data[idx+1:]
		if v, h, ok := parseLine(line); ok {
			m.emitSample(c, v, h)
		}
	}
}

func (m *Monitor) emitSample(c *conn, vRaw, hRaw int) {
	now := m.cfg.Now()

	c.mu.Lock()
	c.lastData = now
	first := !c.dataSeen
	c.dataSeen = true
	c.mu.Unlock()

	m.mu.Lock()
	delta := now.Sub(m.lastTimestamp).Seconds()
	// Deltas outside (0, 1.0s) are clock anomalies and are not accumulated.
	if delta > 0 && delta < 1.0 {
		m.elapsed += delta
	}
	m.lastTimestamp = now
	elapsed := m.elapsed
	m.mu.Unlock()

	if first {
		m.setState(model.LinkDataFlowing, true, "data flowing")
	}

	s := model.Sample{
		Timestamp:  float64(now.UnixNano()) / 1e9,
		Elapsed:    elapsed,
		Vertical:   model.VoltageFromRaw(vRaw),
		Horizontal: model.VoltageFromRaw(hRaw),
	}

	select {
	case m.samples <- s:
	case <-c.stop:
	}
}

// watchdog supervises data flow in two phases: no sample within
// InitialDataTimeout of connect fails the link; after the first sample, a
// gap longer than StaleTimeout fails it.
func (m *Monitor) watchdog(c *conn) {
	interval := m.cfg.StaleTimeout / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := m.cfg.Now()

			c.mu.Lock()
			seen := c.dataSeen
			last := c.lastData
			started := c.startedAt
			c.mu.Unlock()

			if !seen && now.Sub(started) > m.cfg.InitialDataTimeout {
				m.failStale(c, "no data received from instrument")
				return
			}
			if seen && now.Sub(last) > m.cfg.StaleTimeout {
				m.failStale(c, "data flow stopped")
				return
			}
		}
	}
}

// failStale handles a watchdog failure: disconnect, no automatic retry.
func (m *Monitor) failStale(c *conn, reason string) {
	if !m.dropConn(c) {
		return
	}
	c.close()
	m.setState(model.LinkStale, false, reason)
	m.setState(model.LinkDisconnected, false, "disconnected")
}

// failTransport handles a fatal transport error: disconnect and schedule
// exactly one reconnection attempt on the same port. A failure of that
// attempt requires a fresh external Connect.
func (m *Monitor) failTransport(c *conn, reason string) {
	if !m.dropConn(c) {
		return
	}
	c.close()
	m.setState(model.LinkDisconnected, false, reason)

	m.mu.Lock()
	retry := m.retryArmed && !m.closed
	m.retryArmed = false
	if retry {
		name := c.name
		m.retryTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
			if err := m.connect(name, false); err != nil {
				m.setState(model.LinkDisconnected, false,
					fmt.Sprintf("reconnect failed: %v", err))
			}
		})
	}
	m.mu.Unlock()
}

// dropConn detaches c from the monitor if it is still the active connection.
// Returns false when a newer connection has already replaced it.
func (m *Monitor) dropConn(c *conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != c {
		return false
	}
	m.conn = nil
	return true
}

// scanLoop polls the available ports and pushes the results as events.
func (m *Monitor) scanLoop() {
	scan := func() {
		ports, err := m.cfg.Scan()
		if err != nil {
			return
		}
		select {
		case m.ports <- ports:
		default:
		}
	}

	scan()
	ticker := time.NewTicker(m.cfg.PortScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			scan()
		}
	}
}
