// Package memstore is an in-memory objstore.Store. It records every
// operation so tests can assert on ordering, and can inject failures.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tqbf/sitesync/pkg/objstore"
)

type OpKind string

const (
	OpGet    OpKind = "get"
	OpPut    OpKind = "put"
	OpDelete OpKind = "delete"
)

type Op struct {
	Kind OpKind
	Key  string
}

type Store struct {
	mu      sync.Mutex
	objects map[string]objstore.Object
	ops     []Op
	failOn  func(Op) error
	onOp    func(Op)
}

func New() *Store {
	return &Store{objects: make(map[string]objstore.Object)}
}

// FailOn installs a hook consulted before every operation; a non-nil
// return fails the operation without touching the store.
func (s *Store) FailOn(fn func(Op) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = fn
}

// OnOp installs a hook called after every successful operation, outside
// the store lock.
func (s *Store) OnOp(fn func(Op)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOp = fn
}

func (s *Store) begin(op Op) (func(), error) {
	s.mu.Lock()
	fail, notify := s.failOn, s.onOp
	s.mu.Unlock()
	if fail != nil {
		if err := fail(op); err != nil {
			return nil, err
		}
	}
	return func() {
		if notify != nil {
			notify(op)
		}
	}, nil
}

func (s *Store) Get(
	ctx context.Context, key string,
) (*objstore.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done, err := s.begin(Op{OpGet, key})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ops = append(s.ops, Op{OpGet, key})
	obj, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, objstore.ErrNotFound)
	}
	done()
	return &objstore.Object{
		Data:        append([]byte(nil), obj.Data...),
		ContentType: obj.ContentType,
	}, nil
}

func (s *Store) Put(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done, err := s.begin(Op{OpPut, key})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ops = append(s.ops, Op{OpPut, key})
	s.objects[key] = objstore.Object{
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
	}
	s.mu.Unlock()
	done()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done, err := s.begin(Op{OpDelete, key})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ops = append(s.ops, Op{OpDelete, key})
	delete(s.objects, key)
	s.mu.Unlock()
	done()
	return nil
}

func (s *Store) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// OpsOf returns the keys touched by operations of one kind, in order.
func (s *Store) OpsOf(kind OpKind) []string {
	var keys []string
	for _, op := range s.Ops() {
		if op.Kind == kind {
			keys = append(keys, op.Key)
		}
	}
	return keys
}

func (s *Store) ResetOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
