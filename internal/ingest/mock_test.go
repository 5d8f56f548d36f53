package ingest

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/cinecard/cinecard/internal/store"
	"github.com/cinecard/cinecard/pkg/tmdb"
)

// fakeProvider is an in-memory tmdb.Client that records calls.
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int

	similar map[int64][]int64
	fail    map[string]error

	gate    chan struct{}
	entered chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:   make(map[string]int),
		similar: make(map[int64][]int64),
		fail:    make(map[string]error),
	}
}

func (p *fakeProvider) record(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	return p.fail[op]
}

func (p *fakeProvider) setFail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, op)
		return
	}
	p.fail[op] = err
}

func (p *fakeProvider) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakeProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *fakeProvider) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = make(map[string]int)
}

func (p *fakeProvider) MovieDetails(ctx context.Context, id int64) (*tmdb.MovieDetails, error) {
	if p.gate != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
		<-p.gate
	}
	if err := p.record("details"); err != nil {
		return nil, err
	}
	title := fmt.Sprintf("Title %d", id)
	if id == 27205 {
		title = "Inception"
	}
	return &tmdb.MovieDetails{
		ID:               id,
		Title:            title,
		OriginalTitle:    title,
		OriginalLanguage: "en",
		Overview:         "A thief who steals corporate secrets through dream-sharing technology.",
		Tagline:          "Your mind is the scene of the crime.",
		ReleaseDate:      "2010-07-15",
		Runtime:          148,
		Popularity:       90.5,
		VoteAverage:      8.4,
		VoteCount:        35000,
		PosterPath:       "/poster.jpg",
		BackdropPath:     "/backdrop.jpg",
		Genres:           []tmdb.Genre{{ID: 28, Name: "Action"}, {ID: 878, Name: "Science Fiction"}},
	}, nil
}

func (p *fakeProvider) Credits(ctx context.Context, id int64) (*tmdb.Credits, error) {
	if err := p.record("credits"); err != nil {
		return nil, err
	}
	return &tmdb.Credits{
		ID: id,
		Cast: []tmdb.CastCredit{
			{ID: 24045, Name: "Joseph Gordon-Levitt", Character: "Arthur", Order: 1, ProfilePath: "/jgl.jpg"},
			{ID: 6193, Name: "Leonardo DiCaprio", Character: "Cobb", Order: 0, ProfilePath: "/leo.jpg"},
		},
		Crew: []tmdb.CrewCredit{
			{ID: 525, Name: "Christopher Nolan", Job: "Screenplay", Department: "Writing", ProfilePath: "/cn.jpg"},
			{ID: 525, Name: "Christopher Nolan", Job: "Director", Department: "Directing", ProfilePath: "/cn.jpg"},
			{ID: 999, Name: "Grip", Job: "Key Grip", Department: "Crew"},
		},
	}, nil
}

func (p *fakeProvider) Videos(ctx context.Context, id int64) (*tmdb.Videos, error) {
	if err := p.record("videos"); err != nil {
		return nil, err
	}
	return &tmdb.Videos{ID: id, Results: []tmdb.Video{
		{Key: "teaser1", Name: "Teaser", Site: "YouTube", Type: "Teaser", Official: true},
		{Key: "feat1", Name: "Featurette", Site: "YouTube", Type: "Featurette"},
		{Key: "trailer1", Name: "Official Trailer", Site: "YouTube", Type: "Trailer", Official: true},
		{Key: "vimeo1", Name: "Vimeo Trailer", Site: "Vimeo", Type: "Trailer"},
	}}, nil
}

func (p *fakeProvider) Similar(ctx context.Context, id int64) (*tmdb.ListPage, error) {
	if err := p.record("similar"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	ids := p.similar[id]
	p.mu.Unlock()
	page := &tmdb.ListPage{Page: 1, TotalPages: 1}
	for _, sid := range ids {
		page.Results = append(page.Results, tmdb.ListResult{ID: sid})
	}
	return page, nil
}

func (p *fakeProvider) ReleaseDates(ctx context.Context, id int64) (*tmdb.ReleaseDates, error) {
	if err := p.record("releases"); err != nil {
		return nil, err
	}
	return &tmdb.ReleaseDates{ID: id, Results: []tmdb.CountryRelease{
		{ISO31661: "US", ReleaseDates: []tmdb.Release{{Certification: "PG-13", Type: 3}}},
	}}, nil
}

func (p *fakeProvider) Images(ctx context.Context, id int64) (*tmdb.Images, error) {
	if err := p.record("images"); err != nil {
		return nil, err
	}
	return &tmdb.Images{ID: id, Backdrops: []tmdb.Image{
		{FilePath: "/backdrop.jpg"},
		{FilePath: "/s1.jpg"},
		{FilePath: "/s2.jpg"},
	}}, nil
}

func (p *fakeProvider) List(ctx context.Context, kind tmdb.ListKind, page int) (*tmdb.ListPage, error) {
	return nil, eris.New("not implemented")
}

// fakeAssets stores nothing and returns CDN-style URLs.
type fakeAssets struct {
	mu      sync.Mutex
	paths   []string
	people  []int64
	failAll bool
}

func (a *fakeAssets) Materialize(ctx context.Context, sourceURL, path string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return "", false
	}
	a.paths = append(a.paths, path)
	return "http://cdn.test/" + path + ".jpg", true
}

func (a *fakeAssets) MaterializePerson(ctx context.Context, personID int64, sourceURL string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return "", false
	}
	a.people = append(a.people, personID)
	return fmt.Sprintf("http://cdn.test/people/%d.jpg", personID), true
}

func (a *fakeAssets) MaterializeVideoThumbnail(ctx context.Context, videoKey, path string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return "", false
	}
	a.paths = append(a.paths, path)
	return "http://cdn.test/" + path + ".jpg", true
}

type fakeLogliner struct {
	line string
	err  error
}

func (l *fakeLogliner) Logline(ctx context.Context, in LoglineInput) (string, error) {
	return l.line, l.err
}

type enqueueCall struct {
	WorkID   string
	Priority int
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []enqueueCall
}

func (q *fakeQueue) Enqueue(ctx context.Context, workID string, priority int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, enqueueCall{WorkID: workID, Priority: priority})
	return true, nil
}

type notification struct {
	WorkID        string
	ExternalID    int64
	ETag          string
	SchemaVersion int
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *fakeNotifier) CardUpdated(ctx context.Context, workID string, externalID int64, etag string, schemaVersion int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{workID, externalID, etag, schemaVersion})
	return nil
}

// offsetClock follows wall time shifted by an adjustable offset.
type offsetClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *offsetClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *offsetClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type harness struct {
	orch     *Orchestrator
	store    *store.SQLiteStore
	provider *fakeProvider
	assets   *fakeAssets
	queue    *fakeQueue
	notifier *fakeNotifier
	clock    *offsetClock
}

func testOptions() Options {
	return Options{
		StaleAfter:      7 * 24 * time.Hour,
		PollInterval:    5 * time.Millisecond,
		PollTimeout:     2 * time.Second,
		Lease:           10 * time.Minute,
		MaxPeoplePhotos: 15,
		MaxStills:       5,
		ImageBaseURL:    "http://img.test/t/p",
	}
}

func newHarness(t *testing.T, opts Options, extra ...Option) *harness {
	t.Helper()
	clock := &offsetClock{}
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := &harness{
		store:    st,
		provider: newFakeProvider(),
		assets:   &fakeAssets{},
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		clock:    clock,
	}
	options := append([]Option{
		WithLogliner(&fakeLogliner{line: "A thief enters dreams to plant one idea."}),
		WithRefreshEnqueuer(h.queue),
		WithNotifier(h.notifier),
	}, extra...)
	h.orch = New(st, h.provider, h.assets, opts, options...)
	return h
}

var errProvider = &tmdb.StatusError{StatusCode: http.StatusInternalServerError, Path: "/movie"}
