package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "out/oscal/r1/a.json", []byte("one")))
	require.NoError(t, s.Put(ctx, "out/oscal/r1/a.json", []byte("two")))
	require.NoError(t, s.Put(ctx, "out/oscal/r2/b.json", []byte("three")))

	got, err := s.Get(ctx, "out/oscal/r1/a.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	keys, err := s.List(ctx, "out/oscal")
	require.NoError(t, err)
	assert.Equal(t, []string{"out/oscal/r1/a.json", "out/oscal/r2/b.json"}, keys)

	entries, err := os.ReadDir(filepath.Join(s.Root, "out", "oscal", "r1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, s.Delete(ctx, "out/oscal/r1/a.json"))
	require.NoError(t, s.Delete(ctx, "out/oscal/r1/a.json"))
	_, err = s.Get(ctx, "out/oscal/r1/a.json")
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_ListMissingPrefix(t *testing.T) {
	keys, err := NewLocalStore(t.TempDir()).List(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	assert.Error(t, s.Put(context.Background(), "../x.json", []byte("{}")))
	assert.Error(t, s.Delete(context.Background(), "/etc/passwd"))
}

func TestEncodeJSON(t *testing.T) {
	data, err := EncodeJSON(map[string]any{"title": "EviID POA&M <r1>", "n": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"n\": 1,\n  \"title\": \"EviID POA&M <r1>\"\n}\n", string(data))
}

func TestPutGetJSON(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	type doc struct {
		Release string `json:"release"`
	}
	require.NoError(t, PutJSON(ctx, s, "index.json", doc{Release: "r1"}))

	var got doc
	require.NoError(t, GetJSON(ctx, s, "index.json", &got))
	assert.Equal(t, "r1", got.Release)
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in             string
		bucket, prefix string
		wantErr        bool
	}{
		{"s3://evidence", "evidence", "", false},
		{"s3://evidence/releases/", "evidence", "releases", false},
		{"s3://evidence/a/b", "evidence", "a/b", false},
		{"https://evidence", "", "", true},
		{"s3:///prefix", "", "", true},
	}
	for _, tt := range tests {
		b, p, err := ParseS3URL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.bucket, b)
		assert.Equal(t, tt.prefix, p)
	}
}
