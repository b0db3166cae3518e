// Package fakestore runs an in-process object endpoint for tests: an
// httptest server speaking the httpstore protocol on top of a memstore.
package fakestore

import (
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/tqbf/sitesync/pkg/objstore/httpstore"
	"github.com/tqbf/sitesync/pkg/objstore/memstore"
)

type Request struct {
	Method string
	Path   string
	Auth   string
}

type Server struct {
	HS    *httptest.Server
	Store *memstore.Store
	Token string

	mu       sync.Mutex
	requests []Request
}

func New(token string) *Server {
	s := &Server{
		Store: memstore.New(),
		Token: token,
	}
	h := httpstore.NewHandler(s.Store, token)
	s.HS = httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			s.requests = append(s.requests, Request{
				Method: r.Method,
				Path:   r.URL.Path,
				Auth:   r.Header.Get("Authorization"),
			})
			s.mu.Unlock()
			h.ServeHTTP(w, r)
		},
	))
	return s
}

func (s *Server) Close() {
	s.HS.Close()
}

func (s *Server) URL() string {
	return s.HS.URL
}

// Client returns an httpstore client already pointed at the server.
func (s *Server) Client() *httpstore.Client {
	c := httpstore.New(s.URL(), s.Token)
	c.HTTPClient = s.HS.Client()
	return c
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}
