// Package blob stores materialized assets under stable, content-addressed
// paths and resolves them to public URLs.
package blob

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

// Store is the object storage gateway used by the asset materializer.
type Store interface {
	// Put writes data at p, replacing any existing object, and returns its URL.
	Put(ctx context.Context, p string, data []byte) (string, error)
	// Find returns the URL of the first object whose path starts with prefix.
	Find(ctx context.Context, prefix string) (string, bool, error)
	// URL resolves a stored path to its public URL.
	URL(p string) string
}

// AferoStore is a Store backed by an afero filesystem. Production uses a
// base-path OS filesystem; tests use an in-memory one.
type AferoStore struct {
	fs      afero.Fs
	baseURL string
}

// NewAferoStore creates a store on fs serving objects under baseURL.
func NewAferoStore(fs afero.Fs, baseURL string) *AferoStore {
	return &AferoStore{fs: fs, baseURL: strings.TrimRight(baseURL, "/")}
}

// NewDiskStore creates a store rooted at dir on the local disk.
func NewDiskStore(dir, baseURL string) (*AferoStore, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", dir)
	}
	return NewAferoStore(afero.NewBasePathFs(osFs, dir), baseURL), nil
}

// Fs exposes the underlying filesystem, e.g. to serve it over HTTP.
func (s *AferoStore) Fs() afero.Fs {
	return s.fs
}

// Put writes via a temp file and rename so readers never see a partial object.
func (s *AferoStore) Put(ctx context.Context, p string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := clean(p)
	if err != nil {
		return "", err
	}

	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: mkdir %s", dir)
	}

	tmp := path.Join(dir, ".tmp-"+uuid.NewString())
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "blob: write %s", p)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return "", eris.Wrapf(err, "blob: rename %s", p)
	}

	return s.URL(p), nil
}

func (s *AferoStore) Find(ctx context.Context, prefix string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	prefix, err := clean(prefix)
	if err != nil {
		return "", false, err
	}

	dir, base := path.Split(prefix)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "."
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, eris.Wrapf(err, "blob: list %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		if strings.HasPrefix(e.Name(), base) {
			return s.URL(path.Join(dir, e.Name())), true, nil
		}
	}
	return "", false, nil
}

func (s *AferoStore) URL(p string) string {
	return s.baseURL + "/" + strings.TrimLeft(path.Clean("/"+p), "/")
}

func clean(p string) (string, error) {
	c := path.Clean("/" + p)
	if c == "/" || strings.Contains(p, "..") {
		return "", eris.Errorf("blob: invalid path %q", p)
	}
	return strings.TrimPrefix(c, "/"), nil
}
