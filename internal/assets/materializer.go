// Package assets downloads provider images into blob storage so cards keep
// working when upstream URLs change or disappear.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for header validation
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/cinecard/cinecard/internal/blob"
	"github.com/cinecard/cinecard/internal/resilience"
)

const maxAssetBytes = 20 << 20

// Options configures a Materializer.
type Options struct {
	// Attempts bounds download tries per asset.
	Attempts uint
	// RetryDelay is the base delay between tries.
	RetryDelay time.Duration
	// PlaceholderMinBytes is the size below which a video thumbnail is
	// considered the host's "no thumbnail" placeholder.
	PlaceholderMinBytes int
	// VideoThumbBaseURL is the thumbnail host, e.g. https://img.youtube.com/vi.
	VideoThumbBaseURL string
}

// Materializer downloads, validates and stores images. It never returns
// errors to callers: a failed asset is logged and reported as not stored so
// the caller can fall back to the provider URL.
type Materializer struct {
	blob blob.Store
	http *http.Client
	opts Options
}

// New creates a Materializer writing to store.
func New(store blob.Store, hc *http.Client, opts Options) *Materializer {
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.VideoThumbBaseURL == "" {
		opts.VideoThumbBaseURL = "https://img.youtube.com/vi"
	}
	return &Materializer{blob: store, http: hc, opts: opts}
}

// Materialize downloads sourceURL and stores it at path plus the detected
// file extension. It returns the stored URL and true on success.
func (m *Materializer) Materialize(ctx context.Context, sourceURL, path string) (string, bool) {
	if sourceURL == "" {
		return "", false
	}
	log := zap.L().With(zap.String("component", "assets"), zap.String("path", path))

	data, err := m.download(ctx, sourceURL)
	if err != nil {
		log.Warn("asset download failed", zap.String("url", sourceURL), zap.Error(err))
		return "", false
	}

	return m.store(ctx, log, data, path)
}

// MaterializePerson stores a profile photo at people/<id>.<ext>, skipping the
// download when any photo for that person is already stored.
func (m *Materializer) MaterializePerson(ctx context.Context, personID int64, sourceURL string) (string, bool) {
	path := "people/" + strconv.FormatInt(personID, 10)
	if url, ok, err := m.blob.Find(ctx, path+"."); err == nil && ok {
		return url, true
	} else if err != nil {
		zap.L().Debug("assets: person lookup failed", zap.Int64("person_id", personID), zap.Error(err))
	}
	return m.Materialize(ctx, sourceURL, path)
}

// MaterializeVideoThumbnail stores the best available thumbnail for a YouTube
// video. The high-resolution variant is preferred; when it is missing or is
// the host's small placeholder image, the always-present hqdefault is used.
func (m *Materializer) MaterializeVideoThumbnail(ctx context.Context, videoKey, path string) (string, bool) {
	log := zap.L().With(zap.String("component", "assets"), zap.String("video_key", videoKey))

	data, err := m.download(ctx, ThumbnailURL(m.opts.VideoThumbBaseURL, videoKey, "maxresdefault"))
	if err != nil || len(data) < m.opts.PlaceholderMinBytes {
		data, err = m.download(ctx, ThumbnailURL(m.opts.VideoThumbBaseURL, videoKey, "hqdefault"))
		if err != nil {
			log.Warn("video thumbnail download failed", zap.Error(err))
			return "", false
		}
	}

	return m.store(ctx, log, data, path)
}

// ThumbnailURL builds a YouTube thumbnail URL for a video key and variant.
func ThumbnailURL(base, videoKey, variant string) string {
	if base == "" {
		base = "https://img.youtube.com/vi"
	}
	return fmt.Sprintf("%s/%s/%s.jpg", strings.TrimRight(base, "/"), videoKey, variant)
}

func (m *Materializer) store(ctx context.Context, log *zap.Logger, data []byte, path string) (string, bool) {
	ext, err := validateImage(data)
	if err != nil {
		log.Warn("asset rejected", zap.Error(err))
		return "", false
	}

	url, err := m.blob.Put(ctx, path+ext, data)
	if err != nil {
		log.Warn("asset upload failed", zap.Error(err))
		return "", false
	}
	return url, true
}

func (m *Materializer) download(ctx context.Context, url string) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, retry.Unrecoverable(eris.Wrap(err, "assets: create request"))
			}

			resp, err := m.http.Do(req)
			if err != nil {
				return nil, eris.Wrap(err, "assets: request failed")
			}
			defer resp.Body.Close() //nolint:errcheck

			if resp.StatusCode != http.StatusOK {
				err := eris.Errorf("assets: unexpected status %d for %s", resp.StatusCode, url)
				if resilience.IsTransientStatus(resp.StatusCode) {
					return nil, err
				}
				return nil, retry.Unrecoverable(err)
			}

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
			if err != nil {
				return nil, eris.Wrap(err, "assets: read body")
			}
			if len(data) > maxAssetBytes {
				return nil, retry.Unrecoverable(eris.Errorf("assets: %s exceeds %d bytes", url, maxAssetBytes))
			}
			return data, nil
		},
		retry.Context(ctx),
		retry.Attempts(m.opts.Attempts),
		retry.Delay(m.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// validateImage checks that data is a decodable JPEG, PNG or WebP image and
// returns its file extension.
func validateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", eris.New("assets: empty body")
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/jpeg"), mt.Is("image/png"), mt.Is("image/webp"):
	default:
		return "", eris.Errorf("assets: unsupported content type %s", mt.String())
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", eris.Wrapf(err, "assets: invalid %s header", mt.String())
	}
	return mt.Extension(), nil
}
