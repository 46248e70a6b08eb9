// Package streammux implements the persistent multiplexed stream
// connection: one WebSocket carries many concurrent subscriptions, each
// identified by a locally-allocated subscription id.
package streammux

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vaultline/ingestcore/internal/logger"
	"github.com/vaultline/ingestcore/internal/metrics"
	"github.com/vaultline/ingestcore/internal/wire"
)

// State is the mux's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateReady
)

// ErrKind enumerates the per-subscription/connection failure taxonomy.
type ErrKind string

const (
	ErrTimeout      ErrKind = "timeout"
	ErrAuthRejected ErrKind = "auth_rejected"
	ErrTransport    ErrKind = "transport"
	ErrClosed       ErrKind = "closed"
)

// StreamError is returned for connection-level failures.
type StreamError struct {
	Kind ErrKind
	Err  error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("streammux: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("streammux: %s", e.Kind)
}
func (e *StreamError) Unwrap() error { return e.Err }

// TerminalError is returned when a subscription receives an "E" frame or
// times out waiting for its first reply.
type TerminalError struct {
	Kind    ErrKind // ErrTimeout or a server-reported error
	Payload string
}

func (e *TerminalError) Error() string {
	if e.Kind == ErrTimeout {
		return "streammux: subscription timed out waiting for initial reply"
	}
	return fmt.Sprintf("streammux: subscription error: %s", e.Payload)
}

type subscription struct {
	id     uint64
	initC  chan wire.Frame // first A or E frame; closed after delivering one
	deltaC chan wire.Frame // subsequent D frames, buffered, dropped if full
	once   sync.Once
}

func (s *subscription) deliverInitial(f wire.Frame) {
	s.once.Do(func() {
		s.initC <- f
		close(s.initC)
	})
}

// deliverDelta enqueues f and reports whether it had to drop it because the
// backlog is full. The pager never reads deltaC at all — D frames carry no
// information it needs — so a full buffer just means deltas are arriving
// faster than anyone drains them, and dropping one is harmless.
func (s *subscription) deliverDelta(f wire.Frame) (dropped bool) {
	select {
	case s.deltaC <- f:
		return false
	default:
		return true
	}
}

// HandshakeConfig carries the values that populate the "connect" frame
// body.
type HandshakeConfig struct {
	ProtocolVersion int
	Locale          string
	PlatformID      string
	PlatformVersion string
	ClientVersion   string
}

// Mux owns one WebSocket connection and its subscription table.
type Mux struct {
	log     *logger.Logger
	metrics *metrics.Registry

	mu    sync.Mutex
	conn  *websocket.Conn
	state int32 // atomic State

	subIDCounter uint64 // atomic, allocated starting at 1
	subs         sync.Map // uint64 -> *subscription

	writeCh   chan string
	closeCh   chan struct{}
	closeOnce sync.Once

	handshakeDone chan struct{}
	handshakeOnce sync.Once
	handshakeErr  error
}

// New returns an unconnected Mux.
func New(log *logger.Logger, m *metrics.Registry) *Mux {
	return &Mux{log: log, metrics: m}
}

// State returns the mux's current lifecycle state.
func (m *Mux) State() State {
	return State(atomic.LoadInt32(&m.state))
}

func (m *Mux) setState(s State) {
	atomic.StoreInt32(&m.state, int32(s))
	if m.metrics != nil {
		m.metrics.StreamState.Set(float64(s))
	}
}

// Open dials url with the given headers, performs the connect handshake,
// and blocks until the server replies "connected" or deadline elapses.
// On success the mux transitions to StateReady and a reader/writer pair of
// goroutines is running; on any failure the mux returns to
// StateDisconnected and the connection (if any) is closed.
func (m *Mux) Open(ctx context.Context, url string, headers http.Header, cfg HandshakeConfig, deadline time.Duration) error {
	m.setState(StateHandshaking)

	dialer := websocket.Dialer{HandshakeTimeout: deadline}
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		m.setState(StateDisconnected)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &StreamError{Kind: ErrAuthRejected, Err: err}
		}
		return &StreamError{Kind: ErrTransport, Err: err}
	}

	m.mu.Lock()
	m.conn = conn
	m.writeCh = make(chan string, 64)
	m.closeCh = make(chan struct{})
	m.handshakeDone = make(chan struct{})
	m.handshakeOnce = sync.Once{}
	m.mu.Unlock()

	go m.writeLoop()
	go m.readLoop()

	connectPayload := fmt.Sprintf(
		`{"locale":"%s","platformId":"%s","platformVersion":"%s","clientVersion":"%s"}`,
		cfg.Locale, cfg.PlatformID, cfg.PlatformVersion, cfg.ClientVersion,
	)
	m.send(wire.EncodeConnect(cfg.ProtocolVersion, connectPayload))

	select {
	case <-m.handshakeDone:
		if m.handshakeErr != nil {
			m.teardown()
			return &StreamError{Kind: ErrTransport, Err: m.handshakeErr}
		}
		m.setState(StateReady)
		return nil
	case <-time.After(deadline):
		m.teardown()
		return &StreamError{Kind: ErrTimeout}
	case <-ctx.Done():
		m.teardown()
		return &StreamError{Kind: ErrClosed, Err: ctx.Err()}
	}
}

// Subscribe allocates a new, never-reused subscription id and sends the
// "sub" frame. Non-blocking: it returns as soon as the frame is queued for
// the writer.
func (m *Mux) Subscribe(payload string) uint64 {
	id := atomic.AddUint64(&m.subIDCounter, 1)
	sub := &subscription{
		id:     id,
		initC:  make(chan wire.Frame, 1),
		deltaC: make(chan wire.Frame, 32),
	}
	m.subs.Store(id, sub)
	if m.metrics != nil {
		m.metrics.OpenSubscriptions.Inc()
	}
	m.send(wire.EncodeSub(id, payload))
	return id
}

// AwaitInitial blocks until the subscription's first reply (A or E) arrives
// or deadline elapses, then removes the subscription from the table: every
// call to AwaitInitial ends the subscription's active lifetime, matching the
// "subscribe once, read one page, unsub" usage pattern the pager relies on.
// An "unsub" frame is sent after an A reply or a timeout, not after an E
// reply. If the mux is torn down while waiting, it returns a StreamError of
// kind ErrClosed.
func (m *Mux) AwaitInitial(subID uint64, deadline time.Duration) (wire.Frame, error) {
	v, ok := m.subs.Load(subID)
	if !ok {
		return wire.Frame{}, fmt.Errorf("streammux: unknown subscription %d", subID)
	}
	sub := v.(*subscription)

	select {
	case f, ok := <-sub.initC:
		if !ok {
			// initC is closed without a frame only by teardown.
			m.unsubscribe(subID)
			return wire.Frame{}, &StreamError{Kind: ErrClosed}
		}
		if f.Kind == wire.KindError {
			// The server already ended this subscription by sending E; no
			// unsub is emitted for it, only the local bookkeeping cleanup.
			m.forget(subID)
			return f, &TerminalError{Payload: f.Payload}
		}
		m.unsubscribe(subID)
		return f, nil
	case <-time.After(deadline):
		m.unsubscribe(subID)
		return wire.Frame{}, &TerminalError{Kind: ErrTimeout}
	}
}

// unsubscribe sends the "unsub" frame and removes the subscription from the
// table, guaranteeing no leaked subscriptions remain after a caller is done
// with one.
func (m *Mux) unsubscribe(subID uint64) {
	if _, ok := m.subs.LoadAndDelete(subID); ok {
		m.send(wire.EncodeUnsub(subID, ""))
		if m.metrics != nil {
			m.metrics.OpenSubscriptions.Dec()
		}
	}
}

// forget removes subID from the subscription table without emitting an
// "unsub" frame, for the case where the server has already ended the
// subscription itself (an E frame) and a client-initiated unsub would be
// redundant.
func (m *Mux) forget(subID uint64) {
	if _, ok := m.subs.LoadAndDelete(subID); ok {
		if m.metrics != nil {
			m.metrics.OpenSubscriptions.Dec()
		}
	}
}

func (m *Mux) send(frame string) {
	select {
	case m.writeCh <- frame:
	case <-m.closeCh:
	}
}

func (m *Mux) writeLoop() {
	for {
		select {
		case frame := <-m.writeCh:
			m.mu.Lock()
			conn := m.conn
			m.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				if m.log != nil {
					m.log.ErrorErr("streammux: write failed", err)
				}
				m.teardown()
				return
			}
		case <-m.closeCh:
			return
		}
	}
}

func (m *Mux) readLoop() {
	for {
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.State() == StateHandshaking {
				m.handshakeErr = err
				m.handshakeOnce.Do(func() { close(m.handshakeDone) })
			}
			m.teardown()
			return
		}

		f := wire.Decode(string(data))
		switch f.Kind {
		case wire.KindConnected:
			// A second "connected" after the mux is already Ready is
			// ignored per the handshake contract; handshakeOnce also
			// guards against closing handshakeDone twice if one arrives
			// before Open has observed the first.
			m.handshakeOnce.Do(func() { close(m.handshakeDone) })
		case wire.KindEcho:
			// keepalive, no application meaning
		case wire.KindOutOfBand:
			if m.log != nil {
				m.log.Warnf("streammux: dropped out-of-band frame: %q", f.Raw)
			}
		case wire.KindAdd, wire.KindError:
			if v, ok := m.subs.Load(f.SubID); ok {
				v.(*subscription).deliverInitial(f)
			} else if m.log != nil {
				m.log.Warnf("streammux: dropped frame for unknown/closed sub_id %d: %q", f.SubID, f.Raw)
			}
		case wire.KindContinue:
			// no payload to deliver; the pager decides whether to fetch
			// another page based on cursor presence in the A frame, not
			// on seeing a C frame.
		case wire.KindDelta:
			if v, ok := m.subs.Load(f.SubID); ok {
				if dropped := v.(*subscription).deliverDelta(f); dropped && m.metrics != nil {
					m.metrics.ItemsDropped.Inc()
				}
			} else if m.log != nil {
				m.log.Warnf("streammux: dropped frame for unknown/closed sub_id %d: %q", f.SubID, f.Raw)
			}
		}
	}
}

// teardown closes the connection and transitions the mux back to
// Disconnected. Every subscription still open at teardown time fails its
// AwaitInitial caller via the closed initC channel.
func (m *Mux) teardown() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
		m.mu.Lock()
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()
		m.subs.Range(func(key, value interface{}) bool {
			sub := value.(*subscription)
			sub.once.Do(func() { close(sub.initC) })
			if _, ok := m.subs.LoadAndDelete(key); ok && m.metrics != nil {
				m.metrics.OpenSubscriptions.Dec()
			}
			return true
		})
		m.setState(StateDisconnected)
	})
}

// Close terminates the connection and releases all subscriptions. Safe to
// call multiple times and from any goroutine.
func (m *Mux) Close() error {
	m.teardown()
	return nil
}

