package rpcclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
	"github.com/Imnotndesh/TrueHub-sub001/internal/testutil/fakemw"
)

func TestConnectIsIdempotent(t *testing.T) {
	srv := fakemw.New(t)
	conn := NewConn(ConnOptions{URL: srv.URL()})
	t.Cleanup(conn.Disconnect)

	for i := 0; i < 3; i++ {
		ok, err := conn.Connect(context.Background())
		if err != nil || !ok {
			t.Fatalf("connect %d: ok=%v err=%v", i, ok, err)
		}
	}
	if srv.Accepted() != 1 {
		t.Fatalf("expected one handshake, got %d", srv.Accepted())
	}
	if conn.State() != StateConnected {
		t.Fatalf("expected connected, got %s", conn.State())
	}
	if conn.Transitions() != 2 {
		t.Fatalf("expected 2 transitions, got %d", conn.Transitions())
	}
}

func TestConcurrentConnectSharesAttempt(t *testing.T) {
	srv := fakemw.New(t)
	conn := NewConn(ConnOptions{URL: srv.URL()})
	t.Cleanup(conn.Disconnect)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := conn.Connect(context.Background()); err != nil || !ok {
				t.Errorf("connect: ok=%v err=%v", ok, err)
			}
		}()
	}
	wg.Wait()
	if srv.Accepted() != 1 {
		t.Fatalf("expected one handshake, got %d", srv.Accepted())
	}
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	srv := fakemw.New(t)
	url := srv.URL()
	srv.Close()

	var mu sync.Mutex
	var seen []State
	conn := NewConn(ConnOptions{URL: url, ConnectTimeout: time.Second})
	conn.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	ok, err := conn.Connect(context.Background())
	if ok || err == nil {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	if kind := rpckit.KindOf(err); kind != rpckit.KindTransport && kind != rpckit.KindTimeout {
		t.Fatalf("unexpected kind %s", kind)
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", conn.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != StateConnecting || seen[1] != StateDisconnected {
		t.Fatalf("unexpected transitions %v", seen)
	}
}

func TestStateObserverSeesFullCycle(t *testing.T) {
	srv := fakemw.New(t)
	conn := NewConn(ConnOptions{URL: srv.URL()})

	states := make(chan State, 8)
	conn.OnStateChange(func(s State) { states <- s })

	if ok, err := conn.Connect(context.Background()); err != nil || !ok {
		t.Fatalf("connect: ok=%v err=%v", ok, err)
	}
	conn.Disconnect()
	conn.Disconnect()

	want := []State{StateConnecting, StateConnected, StateDisconnected}
	for _, w := range want {
		select {
		case got := <-states:
			if got != w {
				t.Fatalf("expected %s, got %s", w, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing transition to %s", w)
		}
	}
	select {
	case extra := <-states:
		t.Fatalf("unexpected extra transition %s", extra)
	default:
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	srv := fakemw.New(t)
	d := newDispatcher(t, srv, DispatcherOptions{})

	d.Conn().Disconnect()
	if ok, err := d.Conn().Connect(context.Background()); err != nil || !ok {
		t.Fatalf("reconnect: ok=%v err=%v", ok, err)
	}
	if !Ping(context.Background(), d) {
		t.Fatal("ping after reconnect failed")
	}
	if srv.Accepted() != 2 {
		t.Fatalf("expected 2 handshakes, got %d", srv.Accepted())
	}
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateConnecting, false},
	}
	for _, tc := range cases {
		if got := validTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v", tc.from, tc.to, tc.want)
		}
	}
}
