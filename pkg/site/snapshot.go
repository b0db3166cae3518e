package site

import (
	"sort"
	"time"
)

// Object is one servable file. Objects are shared between snapshots and
// must not be modified.
type Object struct {
	Data        []byte
	ContentType string
	Hash        string
}

// ETag is a strong validator derived from the content hash.
func (o *Object) ETag() string {
	h := o.Hash
	if len(h) > 32 {
		h = h[:32]
	}
	return `"` + h + `"`
}

// Snapshot is an immutable view of the manifest and every object it
// lists. A request that starts against one snapshot finishes against it
// even if a reload swaps in a newer one meanwhile.
type Snapshot struct {
	version  string
	objects  map[string]*Object
	pending  []string
	loadedAt time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{objects: map[string]*Object{}}
}

func (s *Snapshot) Version() string {
	return s.version
}

func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

func (s *Snapshot) Len() int {
	return len(s.objects)
}

func (s *Snapshot) Lookup(path string) (*Object, bool) {
	o, ok := s.objects[path]
	return o, ok
}

func (s *Snapshot) Paths() []string {
	out := make([]string, 0, len(s.objects))
	for p := range s.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Pending lists manifest paths whose objects were unavailable at load
// time. Each is either missing or still served at its previous version.
func (s *Snapshot) Pending() []string {
	return append([]string(nil), s.pending...)
}

type Status struct {
	Version  string    `json:"version"`
	Entries  int       `json:"entries"`
	Pending  int       `json:"pending"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (s *Snapshot) Status() Status {
	return Status{
		Version:  s.version,
		Entries:  len(s.objects),
		Pending:  len(s.pending),
		LoadedAt: s.loadedAt,
	}
}
