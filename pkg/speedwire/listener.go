// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// State is a listener lifecycle state
type State int32

const (
	StateCreated State = iota
	StateBound
	StateRunning
	StateStopping
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Config holds listener settings. Zero values select the defaults.
type Config struct {
	// BindAddress is the local IPv4 address whose interface joins the group.
	// Empty selects the address of the interface routing to the internet.
	BindAddress string

	Group          string        // multicast group, default 239.12.255.254
	Port           int           // UDP port, default 9522
	ReceiveTimeout time.Duration // default 5s

	Logger *slog.Logger
}

// Listener receives Speedwire telegrams from the multicast group and hands
// them to registered observers. A listener runs at most once: after Shutdown
// or a failed Start a new one has to be created.
type Listener struct {
	bindIP    net.IP
	group     net.IP
	port      int
	timeout   time.Duration
	groupAddr *net.UDPAddr

	logger  *slog.Logger
	decoder *Decoder
	listen  listenFunc

	startMu sync.Mutex
	state   atomic.Int32
	stop    atomic.Bool
	done    chan struct{}

	connMu sync.RWMutex
	conn   packetConn

	observers registry
}

// New validates cfg and creates a listener in the created state
func New(cfg Config) (*Listener, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}

	groupText := cfg.Group
	if groupText == "" {
		groupText = DefaultGroup
	}
	group := net.ParseIP(groupText).To4()
	if group == nil {
		return nil, &ConfigError{Field: "group", Value: groupText, Err: errors.New("not an IPv4 address")}
	}
	if !group.IsMulticast() {
		return nil, &ConfigError{Field: "group", Value: groupText, Err: errors.New("not a multicast address")}
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		return nil, &ConfigError{Field: "port", Value: strconv.Itoa(cfg.Port), Err: errors.New("out of range")}
	}

	timeout := cfg.ReceiveTimeout
	if timeout == 0 {
		timeout = DefaultReceiveTimeout
	}
	if timeout < 0 {
		return nil, &ConfigError{Field: "receive timeout", Value: timeout.String(), Err: errors.New("must be positive")}
	}

	var bind net.IP
	if cfg.BindAddress == "" {
		detected, err := localAddress()
		if err != nil {
			return nil, &ConfigError{Field: "bind address", Value: "", Err: err}
		}
		bind = detected.To4()
		logger.Debug("detected local address", "address", bind)
	} else {
		bind = net.ParseIP(cfg.BindAddress).To4()
		if bind == nil {
			return nil, &ConfigError{Field: "bind address", Value: cfg.BindAddress, Err: errors.New("not an IPv4 address")}
		}
	}

	l := &Listener{
		bindIP:    bind,
		group:     group,
		port:      port,
		timeout:   timeout,
		groupAddr: &net.UDPAddr{IP: group, Port: port},
		logger:    logger,
		decoder:   NewDecoder(logger),
		listen:    listenMulticast,
		done:      make(chan struct{}),
	}
	l.state.Store(int32(StateCreated))
	return l, nil
}

// BindAddress returns the local address the listener joins the group on
func (l *Listener) BindAddress() net.IP {
	return append(net.IP(nil), l.bindIP...)
}

// Group returns the multicast group
func (l *Listener) Group() net.IP {
	return append(net.IP(nil), l.group...)
}

// Port returns the UDP port
func (l *Listener) Port() int {
	return l.port
}

// ReceiveTimeout returns the idle window after which timeout observers run
func (l *Listener) ReceiveTimeout() time.Duration {
	return l.timeout
}

// State returns the current lifecycle state
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Done returns a channel that is closed once the listener is closed
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// OnData registers fn for every decoded telegram
func (l *Listener) OnData(fn DataFunc) (remove func()) {
	return l.observers.data.add(fn)
}

// OnDataKind registers fn for decoded telegrams of one kind
func (l *Listener) OnDataKind(kind Kind, fn DataFunc) (remove func()) {
	return l.observers.data.add(func(t Telegram) {
		if t.Kind() == kind {
			fn(t)
		}
	})
}

// OnError registers fn for parse, receive and send failures
func (l *Listener) OnError(fn ErrorFunc) (remove func()) {
	return l.observers.errors.add(fn)
}

// OnTimeout registers fn for every receive timeout
func (l *Listener) OnTimeout(fn TimeoutFunc) (remove func()) {
	return l.observers.timeout.add(fn)
}

// Start opens the socket, joins the group and starts the receive loop.
// On failure the socket is released and the listener is closed. Cancelling
// ctx has the same effect as Shutdown.
func (l *Listener) Start(ctx context.Context) error {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	switch l.State() {
	case StateCreated:
	case StateClosed:
		return ErrClosed
	default:
		return ErrAlreadyStarted
	}

	conn, err := l.listen(ctx, l.bindIP, l.group, l.port)
	if err != nil {
		var startErr *StartError
		if !errors.As(err, &startErr) {
			err = &StartError{Op: "listen", Err: err}
		}
		l.finish()
		return err
	}
	l.state.Store(int32(StateBound))

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.logger.Info("speedwire listener started",
		"bind", l.bindIP.String(), "group", l.group.String(), "port", l.port, "timeout", l.timeout)

	l.state.Store(int32(StateRunning))
	go l.run(ctx, conn)
	return nil
}

// Shutdown asks the receive loop to stop and returns immediately. The loop
// exits within one receive timeout, Done is closed when it has.
func (l *Listener) Shutdown() {
	l.stop.Store(true)

	l.startMu.Lock()
	defer l.startMu.Unlock()

	if l.state.CompareAndSwap(int32(StateCreated), int32(StateClosed)) {
		close(l.done)
		return
	}
	l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// Send writes data to the group without validating it. Failures are
// reported to error observers.
func (l *Listener) Send(data []byte) {
	l.connMu.RLock()
	defer l.connMu.RUnlock()

	if l.conn == nil {
		l.observers.dispatchError(&SendError{Length: len(data), Err: ErrNotRunning})
		return
	}
	if _, err := l.conn.WriteTo(data, l.groupAddr); err != nil {
		l.observers.dispatchError(&SendError{Length: len(data), Err: err})
	}
}

// SendDiscoveryRequest asks every device on the group to identify itself
func (l *Listener) SendDiscoveryRequest() {
	l.Send(discoveryRequest[:])
}

func (l *Listener) run(ctx context.Context, conn packetConn) {
	defer l.finish()

	buf := make([]byte, MaxDatagramSize)
	for {
		if l.stop.Load() || ctx.Err() != nil {
			l.state.Store(int32(StateStopping))
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(l.timeout)); err != nil {
			l.observers.dispatchError(fmt.Errorf("set read deadline: %w", err))
		}

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				if l.stop.Load() || ctx.Err() != nil {
					continue
				}
				l.observers.dispatchTimeout()
			case errors.Is(err, net.ErrClosed):
				return
			default:
				l.observers.dispatchError(fmt.Errorf("receive: %w", err))
			}
			continue
		}

		origin := addrIP(addr)
		telegram, err := l.decoder.Decode(buf[:n], origin)

		if err != nil {
			l.observers.dispatchError(err)
			continue
		}
		if origin.Equal(l.bindIP) {
			l.logger.Debug("dropping multicast echo", "bytes", n)
			continue
		}
		l.observers.dispatchData(telegram)
	}
}

// finish releases the socket and closes the listener
func (l *Listener) finish() {
	l.connMu.Lock()
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.logger.Debug("failed to close socket", "error", err)
		}
		l.conn = nil
	}
	l.connMu.Unlock()

	if State(l.state.Swap(int32(StateClosed))) != StateClosed {
		l.logger.Info("speedwire listener closed")
		close(l.done)
	}
}
