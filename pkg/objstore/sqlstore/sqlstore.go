// Package sqlstore keeps objects in a single SQLite database. Bodies that
// shrink under zstd are stored compressed.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/paths"
)

const (
	encodingIdentity = "identity"
	encodingZstd     = "zstd"

	// Bodies smaller than this are stored as-is.
	minCompressSize = 512
)

type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlstore: db path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, enc: enc, dec: dec}
	ctx := context.Background()
	if err := s.applyPragmas(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	_ = s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

func (s *Store) applyPragmas(ctx context.Context) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return err
	}

	var version int
	if err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&version); err != nil {
		return err
	}
	if version < 1 {
		if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS objects (
	key TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	encoding TEXT NOT NULL,
	size INTEGER NOT NULL,
	body BLOB,
	updated_at TEXT NOT NULL
)`); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO schema_migrations(version, applied_at) VALUES(1, ?)",
			time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Get(
	ctx context.Context, key string,
) (*objstore.Object, error) {
	if err := paths.ValidateKey(key); err != nil {
		return nil, err
	}
	var (
		contentType, encoding string
		size                  int64
		body                  []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT content_type, encoding, size, body FROM objects WHERE key = ?",
		key,
	).Scan(&contentType, &encoding, &size, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, objstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}

	switch encoding {
	case encodingIdentity:
	case encodingZstd:
		body, err = s.dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, err)
		}
	default:
		return nil, fmt.Errorf(
			"%s: unknown encoding %q", key, encoding,
		)
	}
	if int64(len(body)) != size {
		return nil, fmt.Errorf(
			"%s: size mismatch: have %d, want %d",
			key, len(body), size,
		)
	}
	return &objstore.Object{Data: body, ContentType: contentType}, nil
}

func (s *Store) Put(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) error {
	if err := paths.ValidateKey(key); err != nil {
		return err
	}
	if contentType == "" {
		contentType = objstore.DefaultContentType
	}
	body, encoding := s.encode(data)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO objects(key, content_type, encoding, size, body, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	content_type = excluded.content_type,
	encoding = excluded.encoding,
	size = excluded.size,
	body = excluded.body,
	updated_at = excluded.updated_at`,
		key, contentType, encoding, int64(len(data)), body,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := paths.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM objects WHERE key = ?", key,
	); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) encode(data []byte) ([]byte, string) {
	if data == nil {
		data = []byte{}
	}
	if len(data) < minCompressSize {
		return data, encodingIdentity
	}
	compressed := s.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(compressed) >= len(data) {
		return data, encodingIdentity
	}
	return compressed, encodingZstd
}

// Encoding reports how key is stored. It exists for tests and tooling.
func (s *Store) Encoding(ctx context.Context, key string) (string, error) {
	var encoding string
	err := s.db.QueryRowContext(ctx,
		"SELECT encoding FROM objects WHERE key = ?", key,
	).Scan(&encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", key, objstore.ErrNotFound)
	}
	return encoding, err
}
