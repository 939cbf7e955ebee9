package hostlink

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
	goji "goji.io"
	"goji.io/pat"
	"golang.org/x/net/websocket"
)

// WebSocketSink serves UART output over HTTP. Every write is broadcast
// to the clients connected to /uart; GET /uart.log returns the output so
// far.
type WebSocketSink struct {
	ln  net.Listener
	srv *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	log     bytes.Buffer
}

type wsMessage struct {
	Cmd  string `json:"cmd"`
	Data string `json:"data"`
}

// OpenWebSocket starts serving on addr, "host:port". Port 0 picks a free
// port; see Addr.
func OpenWebSocket(addr string) (*WebSocketSink, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %s", addr)
	}
	s := &WebSocketSink{ln: ln, clients: map[*websocket.Conn]bool{}}

	mux := goji.NewMux()
	mux.Handle(pat.Get("/uart"), websocket.Handler(s.serveWS))
	mux.HandleFunc(pat.Get("/uart.log"), s.serveLog)
	s.srv = &http.Server{Handler: mux}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			glog.Errorf("uart console server: %v", err)
		}
	}()
	glog.Infof("serving uart console on ws://%s/uart", ln.Addr())
	return s, nil
}

// Addr returns the listening address.
func (s *WebSocketSink) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *WebSocketSink) serveWS(ws *websocket.Conn) {
	s.mu.Lock()
	s.clients[ws] = true
	if s.log.Len() > 0 {
		send(ws, wsMessage{Cmd: "uart", Data: s.log.String()})
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, ws)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		var text string
		if err := websocket.Message.Receive(ws, &text); err != nil {
			glog.V(1).Infof("websocket recv error: %v, closing connection", err)
			return
		}
	}
}

func (s *WebSocketSink) serveLog(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data := append([]byte(nil), s.log.Bytes()...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func send(ws *websocket.Conn, m wsMessage) error {
	t, err := json.Marshal(m)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(websocket.Message.Send(ws, string(t)))
}

// Write records p and broadcasts it. Clients that fail to receive are
// dropped.
func (s *WebSocketSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Write(p)
	m := wsMessage{Cmd: "uart", Data: string(p)}
	for ws := range s.clients {
		if err := send(ws, m); err != nil {
			glog.V(1).Infof("dropping websocket client: %v", err)
			delete(s.clients, ws)
			ws.Close()
		}
	}
	return len(p), nil
}

// Close stops the server and disconnects every client.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	for ws := range s.clients {
		ws.Close()
		delete(s.clients, ws)
	}
	s.mu.Unlock()
	return errors.Trace(s.srv.Close())
}
