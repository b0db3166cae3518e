// Package server runs an HTTP handler until its context is cancelled,
// then drains in-flight connections within a deadline. An optional
// reload loop runs alongside the accept loop and is joined before the
// drain begins.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultReloadInterval = 60 * time.Second
	DefaultDrainTimeout   = 10 * time.Second
)

type State int32

const (
	StateNew State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Server struct {
	Handler http.Handler

	// Reloader, if set, is called every ReloadInterval while running.
	Reloader       Reloader
	ReloadInterval time.Duration
	DrainTimeout   time.Duration
	Logger         *slog.Logger

	// OnShutdown hooks run when draining starts. Use them to end
	// long-lived connections (websockets) the drain does not track.
	OnShutdown []func()

	state  atomic.Int32
	active atomic.Int64
	addrMu sync.Mutex
	addr   net.Addr
}

func (s *Server) State() State {
	return State(s.state.Load())
}

// ActiveConnections counts connections accepted and not yet closed or
// hijacked.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Addr is the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It then stops
// accepting, stops and joins the reload loop, and waits up to
// DrainTimeout for open connections. Connections still open at the
// deadline are abandoned and Serve returns nil.
//
// A panic in the reload loop is returned as an error, and also ends
// serving if it happens while running.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.state.CompareAndSwap(
		int32(StateNew), int32(StateRunning),
	) {
		return fmt.Errorf("server already %s", s.State())
	}
	defer s.state.Store(int32(StateStopped))

	logger := s.logger()
	interval := s.ReloadInterval
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	drain := s.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}

	ln = &onceCloseListener{Listener: ln}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	hs := &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog: slog.NewLogLogger(
			logger.Handler(), slog.LevelError,
		),
		ConnState: s.trackConn,
	}
	for _, fn := range s.OnShutdown {
		hs.RegisterOnShutdown(fn)
	}

	var loop *reloadLoop
	var loopDone <-chan struct{}
	if s.Reloader != nil {
		loop = startReloadLoop(ctx, s.Reloader, interval, logger)
		loopDone = loop.Done()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- hs.Serve(ln)
	}()
	logger.Info("serving", "addr", ln.Addr().String())

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested",
			"active", s.ActiveConnections(),
		)
	case err = <-serveErr:
		err = fmt.Errorf("serve: %w", err)
		serveErr <- nil
	case <-loopDone:
		logger.Error("reload loop exited")
	}

	ln.Close()
	s.state.Store(int32(StateDraining))

	if loop != nil {
		if lerr := loop.Stop(); lerr != nil {
			err = errors.Join(err, lerr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), drain,
	)
	defer cancel()
	if serr := hs.Shutdown(shutdownCtx); serr != nil {
		if errors.Is(serr, context.DeadlineExceeded) {
			logger.Warn("drain deadline passed, abandoning connections",
				"timeout", drain,
				"active", s.ActiveConnections(),
			)
		} else {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", serr))
		}
	}
	<-serveErr

	logger.Info("stopped")
	return err
}

func (s *Server) trackConn(_ net.Conn, st http.ConnState) {
	switch st {
	case http.StateNew:
		s.active.Add(1)
	case http.StateHijacked, http.StateClosed:
		s.active.Add(-1)
	}
}

// onceCloseListener lets both Serve and http.Server close the listener.
type onceCloseListener struct {
	net.Listener
	once sync.Once
	err  error
}

func (l *onceCloseListener) Close() error {
	l.once.Do(func() { l.err = l.Listener.Close() })
	return l.err
}
