package blob

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndFind(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	s := NewAferoStore(fs, "https://cdn.example.com/assets/")
	ctx := context.Background()

	url, err := s.Put(ctx, "people/287.jpg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/assets/people/287.jpg", url)

	got, ok, err := s.Find(ctx, "people/287.")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, url, got)

	_, ok, err = s.Find(ctx, "people/28.")
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := afero.ReadFile(fs, "people/287.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestPutOverwrites(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	s := NewAferoStore(fs, "http://localhost/assets")
	ctx := context.Background()

	_, err := s.Put(ctx, "works/1/poster_w342.jpg", []byte("v1"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "works/1/poster_w342.jpg", []byte("v2"))
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "works/1/poster_w342.jpg")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := afero.ReadDir(fs, "works/1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFindMissingDir(t *testing.T) {
	t.Parallel()
	s := NewAferoStore(afero.NewMemMapFs(), "http://localhost")
	_, ok, err := s.Find(context.Background(), "people/1.")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidPath(t *testing.T) {
	t.Parallel()
	s := NewAferoStore(afero.NewMemMapFs(), "http://localhost")
	_, err := s.Put(context.Background(), "../etc/passwd", []byte("x"))
	assert.Error(t, err)
	_, err = s.Put(context.Background(), "", []byte("x"))
	assert.Error(t, err)
}

func TestNewDiskStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewDiskStore(dir, "http://localhost/assets")
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "works/9/backdrop.png", []byte("png"))
	require.NoError(t, err)

	ok, err := afero.Exists(afero.NewOsFs(), dir+"/works/9/backdrop.png")
	require.NoError(t, err)
	assert.True(t, ok)
}
