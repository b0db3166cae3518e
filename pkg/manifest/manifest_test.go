package manifest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/sitesync/pkg/objstore/memstore"
)

func TestDecodeWireFormat(t *testing.T) {
	m, err := Decode([]byte(
		`{"entries":{"a.txt":"aa","img/b.png":"bb"}}`,
	))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	h, ok := m.Hash("img/b.png")
	assert.True(t, ok)
	assert.Equal(t, "bb", h)
	assert.Equal(t, []string{"a.txt", "img/b.png"}, m.Paths())
}

func TestEncodeDeterministic(t *testing.T) {
	a := New()
	a.Set("z.txt", "1")
	a.Set("a.txt", "2")
	b := New()
	b.Set("a.txt", "2")
	b.Set("z.txt", "1")

	ea, err := a.Encode()
	require.NoError(t, err)
	eb, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
	assert.JSONEq(t, `{"entries":{"a.txt":"2","z.txt":"1"}}`, string(ea))

	back, err := Decode(ea)
	require.NoError(t, err)
	assert.True(t, back.Equal(a))
}

func TestEncodeEmpty(t *testing.T) {
	var m *Manifest
	data, err := m.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":{}}`, string(data))
}

func TestDecodeMissingEntries(t *testing.T) {
	m, err := Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, m.Entries)
	assert.Equal(t, 0, m.Len())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestLoadMissingIsEmpty(t *testing.T) {
	store := memstore.New()
	m, raw, err := Load(context.Background(), store, DefaultKey)
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.Equal(t, 0, m.Len())
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	m := New()
	m.Set("index.html", "abc")
	require.NoError(t, Save(ctx, store, DefaultKey, m))

	obj, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, ContentType, obj.ContentType)

	back, raw, err := Load(ctx, store, DefaultKey)
	require.NoError(t, err)
	assert.True(t, back.Equal(m))
	assert.Equal(t, obj.Data, raw)
}

func TestLoadStoreError(t *testing.T) {
	store := memstore.New()
	boom := errors.New("boom")
	store.FailOn(func(memstore.Op) error { return boom })

	_, _, err := Load(context.Background(), store, DefaultKey)
	assert.ErrorIs(t, err, boom)
}

func TestEqual(t *testing.T) {
	a := New()
	a.Set("x", "1")
	b := New()
	b.Set("x", "2")
	assert.False(t, a.Equal(b))
	assert.True(t, New().Equal(nil))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"entries":{}}`))
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint([]byte(`{"entries":{}}`)))
	assert.NotEqual(t, a, Fingerprint([]byte(`{"entries":{"a":"b"}}`)))
}

func TestEqualNil(t *testing.T) {
	var m *Manifest
	assert.True(t, m.Equal(nil))
	assert.True(t, m.Equal(New()))
}
