// Package fakemw is a scriptable in-process middleware speaking JSON-RPC 2.0
// over WebSocket at /api/current. It is used by package tests only.
package fakemw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
)

const Path = "/api/current"

// Request is one decoded inbound call.
type Request struct {
	ID     int64
	Method string
	Params []json.RawMessage
}

// Param decodes positional parameter i into out. It returns false when the
// parameter is absent or null.
func (r Request) Param(i int, out any) bool {
	if i >= len(r.Params) || rpckit.IsNullResult(r.Params[i]) {
		return false
	}
	return json.Unmarshal(r.Params[i], out) == nil
}

// Reply is what a handler sends back.
type Reply struct {
	Result any
	Err    *rpckit.Error
	// Raw, when set, is written verbatim instead of an envelope.
	Raw string
	// Hang suppresses the reply entirely.
	Hang bool
	// Delay postpones the reply.
	Delay time.Duration
}

func Result(v any) Reply { return Reply{Result: v} }

func Fail(code int, message string) Reply {
	return Reply{Err: &rpckit.Error{Code: code, Message: message}}
}

func Hang() Reply { return Reply{Hang: true} }

type Handler func(Request) Reply

type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
	conns    map[*peer]struct{}
	accepted int
}

type peer struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// New starts a server that answers core.ping with "pong" and every unknown
// method with a -32601 error. It is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
		conns:    make(map[*peer]struct{}),
	}
	s.Handle("core.ping", func(Request) Reply { return Result("pong") })

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.serveWS)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// URL is the ws:// endpoint including the API path.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + Path
}

// BaseURL is the http:// address without a path, as an operator would type it.
func (s *Server) BaseURL() string {
	return s.srv.URL
}

func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Accepted counts WebSocket handshakes served so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// DropConnections closes every open socket without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.ws.Close()
	}
}

// Push sends an unsolicited notification to every open socket.
func (s *Server) Push(method string, params any) {
	frame, _ := json.Marshal(map[string]any{
		"jsonrpc": rpckit.Version,
		"method":  method,
		"params":  params,
	})
	s.Broadcast(string(frame))
}

// Broadcast writes raw to every open socket.
func (s *Server) Broadcast(raw string) {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.write([]byte(raw))
	}
}

func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{ws: ws}
	s.mu.Lock()
	s.conns[p] = struct{}{}
	s.accepted++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, p)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		go s.dispatch(p, Request{ID: req.ID, Method: req.Method, Params: req.Params})
	}
}

func (s *Server) dispatch(p *peer, req Request) {
	s.mu.Lock()
	s.calls[req.Method]++
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()

	reply := Fail(-32601, "Method not found")
	if ok {
		reply = h(req)
	}
	if reply.Hang {
		return
	}
	if reply.Delay > 0 {
		time.Sleep(reply.Delay)
	}
	if reply.Raw != "" {
		p.write([]byte(reply.Raw))
		return
	}
	frame := map[string]any{"jsonrpc": rpckit.Version, "id": req.ID}
	if reply.Err != nil {
		frame["error"] = reply.Err
	} else {
		frame["result"] = reply.Result
	}
	encoded, err := json.Marshal(frame)
	if err != nil {
		return
	}
	p.write(encoded)
}

func (p *peer) write(raw []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.ws.WriteMessage(websocket.TextMessage, raw)
}
