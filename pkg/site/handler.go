package site

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"
)

const (
	WatchPath  = "/_sitesync/watch"
	StatusPath = "/_sitesync/status"
)

// Handler routes requests to objects in the current snapshot, plus the
// watch and status endpoints under /_sitesync/.
func (s *Site) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(WatchPath, s.WatchHandler())
	mux.HandleFunc(StatusPath, s.serveStatus)
	mux.HandleFunc("/", s.serveObject)
	return mux
}

func (s *Site) serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Current().Status()); err != nil {
		s.logger.Warn("write status", "err", err)
	}
}

func (s *Site) serveObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.Current()
	obj, ok := resolve(snap, r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	etag := obj.ETag()
	h := w.Header()
	h.Set("ETag", etag)
	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", obj.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	w.Write(obj.Data)
}

// resolve maps a request path to an object: "/" and "dir/" serve
// index.html, and an extension-less miss falls back to "name/index.html".
func resolve(snap *Snapshot, urlPath string) (*Object, bool) {
	key := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	var candidates []string
	switch {
	case key == "":
		candidates = []string{"index.html"}
	case strings.HasSuffix(urlPath, "/"):
		candidates = []string{key + "/index.html"}
	default:
		candidates = []string{key}
		if path.Ext(key) == "" {
			candidates = append(candidates, key+"/index.html")
		}
	}
	for _, c := range candidates {
		if obj, ok := snap.Lookup(c); ok {
			return obj, true
		}
	}
	return nil, false
}

func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" ||
			strings.TrimPrefix(part, "W/") == etag {
			return true
		}
	}
	return false
}
