// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBind = "192.168.1.10"

type fakePacket struct {
	data []byte
	from net.IP
	err  error
}

type fakeWrite struct {
	data []byte
	addr net.Addr
}

// fakeConn is an in-memory packetConn
type fakeConn struct {
	packets chan fakePacket
	writes  chan fakeWrite
	closed  chan struct{}

	mu       sync.Mutex
	deadline time.Time
	writeErr error

	closeOnce  sync.Once
	closeCount atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		packets: make(chan fakePacket, 16),
		writes:  make(chan fakeWrite, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	wait := time.Until(c.deadline)
	c.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case pkt := <-c.packets:
		if pkt.err != nil {
			return 0, nil, pkt.err
		}
		n := copy(p, pkt.data)
		return n, &net.UDPAddr{IP: pkt.from, Port: DefaultPort}, nil
	case <-timer.C:
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: os.ErrDeadlineExceeded}
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	c.writes <- fakeWrite{data: append([]byte{}, p...), addr: addr}
	return len(p), nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeCount.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(data []byte, from string) {
	c.packets <- fakePacket{data: data, from: net.ParseIP(from)}
}

// newTestListener returns a listener that receives from an in-memory conn
func newTestListener(t *testing.T, timeout time.Duration) (*Listener, *fakeConn) {
	t.Helper()
	l, err := New(Config{BindAddress: testBind, ReceiveTimeout: timeout})
	require.NoError(t, err)

	conn := newFakeConn()
	l.listen = func(ctx context.Context, bind, group net.IP, port int) (packetConn, error) {
		return conn, nil
	}
	t.Cleanup(func() {
		l.Shutdown()
		conn.Close()
	})
	return l, conn
}

func waitDone(t *testing.T, l *Listener) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not close, state %s", l.State())
	}
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(Config{BindAddress: testBind})
	require.NoError(t, err)

	assert.Equal(t, StateCreated, l.State())
	assert.True(t, l.BindAddress().Equal(net.ParseIP(testBind)))
	assert.True(t, l.Group().Equal(net.ParseIP(DefaultGroup)))
	assert.Equal(t, DefaultPort, l.Port())
	assert.Equal(t, DefaultReceiveTimeout, l.ReceiveTimeout())
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"unicast group", Config{BindAddress: testBind, Group: "192.168.1.1"}, "group"},
		{"unparsable group", Config{BindAddress: testBind, Group: "sma.local"}, "group"},
		{"ipv6 group", Config{BindAddress: testBind, Group: "ff02::1"}, "group"},
		{"unparsable bind address", Config{BindAddress: "not-an-ip"}, "bind address"},
		{"port out of range", Config{BindAddress: testBind, Port: 70000}, "port"},
		{"negative port", Config{BindAddress: testBind, Port: -1}, "port"},
		{"negative timeout", Config{BindAddress: testBind, ReceiveTimeout: -time.Second}, "receive timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			assert.Nil(t, l)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestStart_FailureClosesListener(t *testing.T) {
	l, err := New(Config{BindAddress: testBind})
	require.NoError(t, err)

	bindErr := errors.New("address already in use")
	l.listen = func(ctx context.Context, bind, group net.IP, port int) (packetConn, error) {
		return nil, bindErr
	}

	err = l.Start(context.Background())
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.ErrorIs(t, err, bindErr)
	assert.Equal(t, StateClosed, l.State())
	waitDone(t, l)

	assert.ErrorIs(t, l.Start(context.Background()), ErrClosed)
}

func TestStart_Twice(t *testing.T) {
	l, _ := newTestListener(t, time.Second)

	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, StateRunning, l.State())
	assert.ErrorIs(t, l.Start(context.Background()), ErrAlreadyStarted)
}

func TestShutdown_BeforeStart(t *testing.T) {
	l, _ := newTestListener(t, time.Second)

	l.Shutdown()
	assert.Equal(t, StateClosed, l.State())
	waitDone(t, l)
	assert.ErrorIs(t, l.Start(context.Background()), ErrClosed)
}

func TestShutdown_StopsLoopWithinTimeout(t *testing.T) {
	l, conn := newTestListener(t, 50*time.Millisecond)
	require.NoError(t, l.Start(context.Background()))

	start := time.Now()
	l.Shutdown()
	assert.Less(t, time.Since(start), 10*time.Millisecond, "Shutdown must not block")

	waitDone(t, l)
	assert.Equal(t, StateClosed, l.State())
	assert.EqualValues(t, 1, conn.closeCount.Load())

	// Shutdown of a closed listener is a no-op
	l.Shutdown()
	assert.Equal(t, StateClosed, l.State())
}

func TestListener_ContextCancel(t *testing.T) {
	l, _ := newTestListener(t, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx))

	cancel()
	waitDone(t, l)
	assert.Equal(t, StateClosed, l.State())
}

func TestListener_DispatchesTelegrams(t *testing.T) {
	l, conn := newTestListener(t, time.Second)

	all := make(chan Telegram, 4)
	meters := make(chan Telegram, 4)
	l.OnData(func(tg Telegram) { all <- tg })
	l.OnDataKind(KindEnergyMeter, func(tg Telegram) { meters <- tg })
	require.NoError(t, l.Start(context.Background()))

	conn.deliver(EncodeDiscoveryResponse(), "192.168.1.20")
	data, err := fullMeterTelegram().Encode()
	require.NoError(t, err)
	conn.deliver(data, "192.168.1.21")

	first := <-all
	assert.Equal(t, KindDiscoveryResponse, first.Kind())
	assert.True(t, first.Origin().Equal(net.ParseIP("192.168.1.20")))

	second := <-all
	assert.Equal(t, KindEnergyMeter, second.Kind())

	select {
	case tg := <-meters:
		reading := tg.(*EnergyMeterReading)
		assert.Equal(t, uint32(3004906721), reading.Serial())
	case <-time.After(time.Second):
		t.Fatal("kind observer not called")
	}
	assert.Len(t, meters, 0)
}

func TestListener_ErrorsDoNotStopLoop(t *testing.T) {
	l, conn := newTestListener(t, time.Second)

	errs := make(chan error, 4)
	data := make(chan Telegram, 4)
	l.OnError(func(err error) { errs <- err })
	l.OnData(func(tg Telegram) { data <- tg })
	require.NoError(t, l.Start(context.Background()))

	conn.deliver([]byte("not a telegram"), "192.168.1.20")
	conn.packets <- fakePacket{err: errors.New("connection refused")}
	conn.deliver(EncodeDiscoveryResponse(), "192.168.1.20")

	parseErr := <-errs
	var pe *ParseError
	require.ErrorAs(t, parseErr, &pe)
	assert.ErrorIs(t, parseErr, ErrInvalidEnvelope)
	assert.True(t, pe.Origin.Equal(net.ParseIP("192.168.1.20")))

	receiveErr := <-errs
	assert.ErrorContains(t, receiveErr, "connection refused")

	select {
	case tg := <-data:
		assert.Equal(t, KindDiscoveryResponse, tg.Kind())
	case <-time.After(time.Second):
		t.Fatal("loop stopped after an error")
	}
	assert.Equal(t, StateRunning, l.State())
}

func TestListener_TimeoutPerWindow(t *testing.T) {
	const timeout = 40 * time.Millisecond
	l, _ := newTestListener(t, timeout)

	var mu sync.Mutex
	var stamps []time.Time
	l.OnTimeout(func() {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
	})
	require.NoError(t, l.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stamps) >= 4
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, timeout-5*time.Millisecond, "timeout %d fired early", i)
	}
}

func TestListener_DropsOwnEcho(t *testing.T) {
	l, conn := newTestListener(t, time.Second)

	var calls atomic.Int32
	seen := make(chan net.IP, 4)
	l.OnData(func(tg Telegram) {
		calls.Add(1)
		seen <- tg.Origin()
	})
	require.NoError(t, l.Start(context.Background()))

	l.SendDiscoveryRequest()
	echo := <-conn.writes
	conn.deliver(echo.data, testBind)
	conn.deliver(EncodeDiscoveryResponse(), testBind)
	conn.deliver(EncodeDiscoveryResponse(), "192.168.1.30")

	select {
	case origin := <-seen:
		assert.True(t, origin.Equal(net.ParseIP("192.168.1.30")))
	case <-time.After(time.Second):
		t.Fatal("telegram from another device not delivered")
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestListener_OwnMalformedDatagramReachesErrorObservers(t *testing.T) {
	l, conn := newTestListener(t, time.Second)

	errs := make(chan error, 4)
	var calls atomic.Int32
	l.OnError(func(err error) { errs <- err })
	l.OnData(func(Telegram) { calls.Add(1) })
	require.NoError(t, l.Start(context.Background()))

	l.Send([]byte("garbage"))
	echo := <-conn.writes
	conn.deliver(echo.data, testBind)

	select {
	case err := <-errs:
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
		assert.True(t, pe.Origin.Equal(net.ParseIP(testBind)))
	case <-time.After(time.Second):
		t.Fatal("decode error of own datagram not reported")
	}
	assert.EqualValues(t, 0, calls.Load())
}

func TestListener_Send(t *testing.T) {
	l, conn := newTestListener(t, time.Second)
	require.NoError(t, l.Start(context.Background()))

	l.Send([]byte{0x01, 0x02})
	w := <-conn.writes
	assert.Equal(t, []byte{0x01, 0x02}, w.data)
	assert.Equal(t, fmt.Sprintf("%s:%d", DefaultGroup, DefaultPort), w.addr.String())

	l.SendDiscoveryRequest()
	w = <-conn.writes
	assert.True(t, IsDiscoveryRequest(w.data))
}

func TestListener_SendErrorsGoToObservers(t *testing.T) {
	l, conn := newTestListener(t, time.Second)

	errs := make(chan error, 4)
	l.OnError(func(err error) { errs <- err })

	l.Send([]byte{0x01})
	var sendErr *SendError
	require.ErrorAs(t, <-errs, &sendErr)
	assert.ErrorIs(t, sendErr, ErrNotRunning)
	assert.Equal(t, 1, sendErr.Length)

	require.NoError(t, l.Start(context.Background()))
	conn.mu.Lock()
	conn.writeErr = errors.New("network is unreachable")
	conn.mu.Unlock()

	l.SendDiscoveryRequest()
	require.ErrorAs(t, <-errs, &sendErr)
	assert.Equal(t, 20, sendErr.Length)
	assert.ErrorContains(t, sendErr, "network is unreachable")
}

func TestListener_NoObservers(t *testing.T) {
	l, conn := newTestListener(t, 20*time.Millisecond)
	require.NoError(t, l.Start(context.Background()))

	conn.deliver([]byte("garbage"), "192.168.1.20")
	conn.deliver(EncodeDiscoveryResponse(), "192.168.1.20")
	l.Send([]byte{0x01})
	<-conn.writes

	l.Shutdown()
	waitDone(t, l)
}

func TestListener_RegisterFromCallback(t *testing.T) {
	l, conn := newTestListener(t, time.Second)

	late := make(chan Telegram, 4)
	first := make(chan Telegram, 4)
	var once sync.Once
	l.OnData(func(tg Telegram) {
		once.Do(func() {
			l.OnData(func(tg Telegram) { late <- tg })
		})
		first <- tg
	})
	require.NoError(t, l.Start(context.Background()))

	conn.deliver(EncodeDiscoveryResponse(), "192.168.1.20")
	<-first
	assert.Len(t, late, 0, "observer added during dispatch must not see the current telegram")

	conn.deliver(EncodeDiscoveryResponse(), "192.168.1.21")
	<-first
	select {
	case tg := <-late:
		assert.True(t, tg.Origin().Equal(net.ParseIP("192.168.1.21")))
	case <-time.After(time.Second):
		t.Fatal("observer added during dispatch not called")
	}
}
