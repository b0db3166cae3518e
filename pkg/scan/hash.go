package scan

import (
	"encoding/hex"
	"mime"
	"path"

	"golang.org/x/crypto/blake2b"

	"github.com/tqbf/sitesync/pkg/objstore"
)

// Hash is the content hash recorded in manifests: Blake2b-512 over the
// full contents, lowercase hex.
func Hash(data []byte) string {
	sum := blake2b.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// ContentType guesses a media type from the file extension. Parameters
// such as charset are dropped.
func ContentType(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return objstore.DefaultContentType
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return objstore.DefaultContentType
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return objstore.DefaultContentType
	}
	return mt
}
