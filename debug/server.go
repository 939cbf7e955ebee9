package debug

import (
	"context"
	goerrors "errors"
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Server accepts GDB clients over TCP, one at a time. A client that
// connects while another is attached is disconnected at once.
type Server struct {
	sess *Session
	ln   net.Listener

	mu     sync.Mutex
	active net.Conn
	killed bool
	wg     sync.WaitGroup
}

// Listen starts listening on addr, "host:port".
func Listen(addr string, sess *Session) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "gdb server")
	}
	return NewServer(ln, sess), nil
}

// NewServer serves sess on ln.
func NewServer(ln net.Listener, sess *Session) *Server {
	return &Server{sess: sess, ln: ln}
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts clients until ctx is done, the server is closed or a
// client kills the target. It returns nil on ctx or Close, ErrKilled on
// kill, and waits for the attached client to finish before returning.
func (s *Server) Serve(ctx context.Context) error {
	glog.Infof("gdb server listening on %s", s.ln.Addr())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.wg.Wait()
			s.mu.Lock()
			killed := s.killed
			s.mu.Unlock()
			switch {
			case killed:
				return ErrKilled
			case ctx.Err() != nil, isClosed(err):
				return nil
			}
			return errors.Trace(err)
		}

		s.mu.Lock()
		if s.active != nil {
			s.mu.Unlock()
			glog.Warningf("rejecting gdb client %s: a debugger is already attached", conn.RemoteAddr())
			conn.Close()
			continue
		}
		s.active = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	glog.Infof("gdb client connected from %s", conn.RemoteAddr())

	err := NewStub(s.sess, conn).Serve(ctx)

	s.mu.Lock()
	s.active = nil
	if err == ErrKilled {
		s.killed = true
	}
	s.mu.Unlock()
	conn.Close()

	switch {
	case err == ErrKilled:
		s.ln.Close()
	case err != nil && ctx.Err() == nil:
		glog.Warningf("gdb session ended: %v", err)
	}
}

// Close stops accepting clients and disconnects the attached one.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.active != nil {
		s.active.Close()
	}
	s.mu.Unlock()
	return s.ln.Close()
}

func isClosed(err error) bool {
	return goerrors.Is(err, net.ErrClosed)
}
