// Package paths validates object-store keys and matches exclude
// patterns against slash-separated relative paths.
package paths

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var ErrInvalidKey = errors.New("invalid key")

// ValidateKey reports whether key can name an object in the store.
// Keys are clean, relative, slash-separated and valid UTF-8.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: not utf-8: %q", ErrInvalidKey, key)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: contains null byte", ErrInvalidKey)
	case strings.ContainsRune(key, '\\'):
		return fmt.Errorf("%w: contains backslash: %s", ErrInvalidKey, key)
	case path.IsAbs(key):
		return fmt.Errorf("%w: absolute: %s", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return fmt.Errorf(
			"%w: resolves to current directory", ErrInvalidKey,
		)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: escapes root: %s", ErrInvalidKey, key)
	}
	if cleaned != key {
		return fmt.Errorf("%w: not clean: %s", ErrInvalidKey, key)
	}
	return nil
}

// KeyFromRel converts an OS-relative path into a store key.
func KeyFromRel(rel string) string {
	return strings.TrimPrefix(
		path.Clean(filepath.ToSlash(rel)), "./",
	)
}

func IsWithinDir(dir, full string) bool {
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	return rel != ".." &&
		!strings.HasPrefix(rel, "../") &&
		!filepath.IsAbs(rel)
}
