package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
	"github.com/Imnotndesh/TrueHub-sub001/internal/testutil/fakemw"
)

type scriptedCaller struct {
	replies []string
	n       atomic.Int64
}

func (c *scriptedCaller) Call(context.Context, string, ...any) (json.RawMessage, error) {
	i := int(c.n.Add(1)-1) % len(c.replies)
	if c.replies[i] == "" {
		return nil, rpckit.NewCallError(rpckit.KindTimeout, PingMethod, rpckit.ErrTimeout)
	}
	return json.RawMessage(c.replies[i]), nil
}

func TestPing(t *testing.T) {
	cases := []struct {
		reply string
		want  bool
	}{
		{reply: `"pong"`, want: true},
		{reply: `"PONG"`, want: false},
		{reply: `"ok"`, want: false},
		{reply: `true`, want: false},
		{reply: ``, want: false},
	}
	for _, tc := range cases {
		c := &scriptedCaller{replies: []string{tc.reply}}
		if got := Ping(context.Background(), c); got != tc.want {
			t.Fatalf("reply %q: expected %v, got %v", tc.reply, tc.want, got)
		}
	}
}

func TestKeepAliveResetsOnHealthyPing(t *testing.T) {
	c := &scriptedCaller{replies: []string{`"nope"`, ``, `"pong"`}}
	tripped := false
	k := NewKeepAlive(c, func() { tripped = true }, KeepAliveOptions{Interval: 5 * time.Millisecond, MaxFailures: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if k.Run(ctx) {
		t.Fatal("two failures followed by a pong must not trip the threshold")
	}
	if tripped {
		t.Fatal("Run must not disconnect by itself")
	}
	if c.n.Load() < 6 {
		t.Fatalf("expected several pings, got %d", c.n.Load())
	}
}

func TestKeepAliveTripsAfterConsecutiveFailures(t *testing.T) {
	c := &scriptedCaller{replies: []string{`"nope"`}}
	k := NewKeepAlive(c, nil, KeepAliveOptions{Interval: 5 * time.Millisecond, MaxFailures: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !k.Run(ctx) {
		t.Fatal("expected threshold to trip")
	}
	if got := c.n.Load(); got != 3 {
		t.Fatalf("expected exactly 3 pings, got %d", got)
	}
	if k.Failures() != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", k.Failures())
	}
}

func TestKeepAliveDisconnectsLiveConnection(t *testing.T) {
	srv := fakemw.New(t)
	srv.Handle(PingMethod, func(fakemw.Request) fakemw.Reply { return fakemw.Result("nope") })
	d := newDispatcher(t, srv, DispatcherOptions{})

	k := NewKeepAlive(d, d.Conn().Disconnect, KeepAliveOptions{Interval: 10 * time.Millisecond, MaxFailures: 3})
	d.Conn().OnStateChange(func(s State) {
		if s == StateDisconnected {
			k.Stop()
		}
	})
	k.Start()
	t.Cleanup(k.Stop)

	waitFor(t, "keep-alive disconnect", func() bool { return d.Conn().State() == StateDisconnected })
	if got := srv.Calls(PingMethod); got < 3 {
		t.Fatalf("expected at least 3 pings, got %d", got)
	}
}

func TestDecodeShapes(t *testing.T) {
	n, err := Decode[int](json.RawMessage(`42`))
	if err != nil || n != 42 {
		t.Fatalf("scalar: %v %v", n, err)
	}
	list, err := Decode[[]string](json.RawMessage(`["a","b"]`))
	if err != nil || len(list) != 2 || list[1] != "b" {
		t.Fatalf("list: %v %v", list, err)
	}
	obj, err := Decode[map[string]any](json.RawMessage(`{"hostname":"nas"}`))
	if err != nil || obj["hostname"] != "nas" {
		t.Fatalf("object: %v %v", obj, err)
	}
	zero, err := Decode[[]string](json.RawMessage(`null`))
	if err != nil || zero != nil {
		t.Fatalf("null: %v %v", zero, err)
	}
	if _, err := Decode[bool](json.RawMessage(`"yes"`)); !errors.Is(err, rpckit.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestCallWithCustomDecoder(t *testing.T) {
	c := &scriptedCaller{replies: []string{`{"version":"TrueNAS-SCALE-24.10"}`}}
	version := func(raw json.RawMessage) (string, error) {
		var body struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", err
		}
		return body.Version, nil
	}
	got, err := CallWith(context.Background(), c, version, "system.info")
	if err != nil || got != "TrueNAS-SCALE-24.10" {
		t.Fatalf("got %q err=%v", got, err)
	}

	bad := &scriptedCaller{replies: []string{`[1,2]`}}
	if _, err := CallWith(context.Background(), bad, version, "system.info"); rpckit.KindOf(err) != rpckit.KindProtocol {
		t.Fatalf("expected protocol kind, got %v", err)
	}
}
