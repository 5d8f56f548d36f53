package ingest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/assets"
	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/pkg/tmdb"
)

const (
	maxCast     = 12
	maxCrew     = 8
	maxTrailers = 3
	maxSimilar  = 20
)

// keyJobs are the crew credits kept on a card, in display order.
var keyJobs = map[string]int{
	"Director":                0,
	"Screenplay":              1,
	"Writer":                  2,
	"Novel":                   3,
	"Producer":                4,
	"Director of Photography": 5,
	"Original Music Composer": 6,
	"Editor":                  7,
}

// fetched holds the provider responses for one work. Optional parts are nil
// when their enrichment call failed.
type fetched struct {
	details  *tmdb.MovieDetails
	credits  *tmdb.Credits
	videos   *tmdb.Videos
	similar  *tmdb.ListPage
	releases *tmdb.ReleaseDates
	images   *tmdb.Images
}

// fetch calls the provider in a fixed order, pausing between calls. Details,
// credits and videos are required; the rest are best-effort.
func (o *Orchestrator) fetch(ctx context.Context, externalID int64) (*fetched, error) {
	log := o.log.With(zap.Int64("external_id", externalID))
	var f fetched
	var err error

	if f.details, err = o.provider.MovieDetails(ctx, externalID); err != nil {
		return nil, eris.Wrap(err, "ingest: fetch details")
	}
	if err := o.pause(ctx); err != nil {
		return nil, err
	}
	if f.credits, err = o.provider.Credits(ctx, externalID); err != nil {
		return nil, eris.Wrap(err, "ingest: fetch credits")
	}
	if err := o.pause(ctx); err != nil {
		return nil, err
	}
	if f.videos, err = o.provider.Videos(ctx, externalID); err != nil {
		return nil, eris.Wrap(err, "ingest: fetch videos")
	}
	if err := o.pause(ctx); err != nil {
		return nil, err
	}

	if f.similar, err = o.provider.Similar(ctx, externalID); err != nil {
		log.Warn("similar titles unavailable", zap.Error(err))
		f.similar = nil
	}
	if err := o.pause(ctx); err != nil {
		return nil, err
	}
	if f.releases, err = o.provider.ReleaseDates(ctx, externalID); err != nil {
		log.Warn("certification unavailable", zap.Error(err))
		f.releases = nil
	}
	if err := o.pause(ctx); err != nil {
		return nil, err
	}
	if f.images, err = o.provider.Images(ctx, externalID); err != nil {
		log.Warn("images unavailable", zap.Error(err))
		f.images = nil
	}
	return &f, nil
}

// pause waits the configured inter-call delay.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.opts.CallDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.opts.CallDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "ingest: paced call")
	case <-t.C:
		return nil
	}
}

// buildBundle materializes assets and assembles every row the ingestion writes.
func (o *Orchestrator) buildBundle(ctx context.Context, w *model.Work, f *fetched) (*model.IngestionBundle, error) {
	d := f.details
	work := *w
	work.Title = d.Title
	work.OriginalTitle = d.OriginalTitle
	work.ReleaseDate = d.ReleaseDate
	work.ReleaseYear = releaseYear(d.ReleaseDate)
	work.Popularity = d.Popularity

	genres := make([]string, 0, len(d.Genres))
	for _, g := range d.Genres {
		genres = append(genres, g.Name)
	}

	meta := model.WorkMeta{
		WorkID:           w.ID,
		Runtime:          d.Runtime,
		Tagline:          d.Tagline,
		Overview:         d.Overview,
		Genres:           genres,
		Certification:    f.releases.Certification(o.opts.Region),
		OriginalLanguage: d.OriginalLanguage,
		Images:           o.materializeImages(ctx, w.ExternalID, d, f.images),
		Trailers:         buildTrailers(ctx, o.assets, w.ExternalID, f.videos.Results),
		SimilarIDs:       similarIDs(f.similar),
		SchemaVersion:    CurrentSchemaVersion,
	}
	meta.Cast, meta.Crew = o.materializePeople(ctx, f.credits)

	ratings := []model.RatingSource{tmdbRating(w.ID, d.VoteAverage, d.VoteCount)}
	agg := aggregate(w.ID, ratings)

	extras := cardExtras{
		LanguageName: languageName(d.OriginalLanguage),
		Logline: writeLogline(ctx, o.logliner, LoglineInput{
			Title:    d.Title,
			Year:     work.ReleaseYear,
			Genres:   genres,
			Overview: d.Overview,
		}),
	}
	card, err := buildCard(&work, &meta, &agg, extras)
	if err != nil {
		return nil, err
	}

	return &model.IngestionBundle{
		Work:      work,
		Meta:      meta,
		Ratings:   ratings,
		Aggregate: agg,
		Card:      *card,
	}, nil
}

func (o *Orchestrator) materializeImages(ctx context.Context, externalID int64, d *tmdb.MovieDetails, imgs *tmdb.Images) model.Images {
	base := o.opts.ImageBaseURL
	prefix := "works/" + strconv.FormatInt(externalID, 10) + "/"

	out := model.Images{
		PosterSmall: o.materialize(ctx, tmdb.ImageURL(base, "w342", d.PosterPath), prefix+"poster_w342"),
		PosterLarge: o.materialize(ctx, tmdb.ImageURL(base, "w780", d.PosterPath), prefix+"poster_w780"),
		Backdrop:    o.materialize(ctx, tmdb.ImageURL(base, "w1280", d.BackdropPath), prefix+"backdrop"),
		Stills:      []string{},
	}

	if imgs == nil {
		return out
	}
	for _, img := range imgs.Backdrops {
		if len(out.Stills) >= o.opts.MaxStills {
			break
		}
		if img.FilePath == "" || img.FilePath == d.BackdropPath {
			continue
		}
		n := len(out.Stills)
		url := o.materialize(ctx, tmdb.ImageURL(base, "w780", img.FilePath), fmt.Sprintf("%sstill_%d", prefix, n))
		if url != "" {
			out.Stills = append(out.Stills, url)
		}
	}
	return out
}

// materialize stores a provider image, falling back to the provider URL.
func (o *Orchestrator) materialize(ctx context.Context, sourceURL, path string) string {
	if sourceURL == "" {
		return ""
	}
	if url, ok := o.assets.Materialize(ctx, sourceURL, path); ok {
		return url
	}
	return sourceURL
}

// materializePeople selects billed cast and key crew and stores up to
// MaxPeoplePhotos profile photos across both lists.
func (o *Orchestrator) materializePeople(ctx context.Context, credits *tmdb.Credits) ([]model.CastMember, []model.CrewMember) {
	base := o.opts.ImageBaseURL
	budget := o.opts.MaxPeoplePhotos

	photo := func(personID int64, profilePath string) string {
		src := tmdb.ImageURL(base, "w185", profilePath)
		if src == "" {
			return ""
		}
		if budget <= 0 {
			return src
		}
		budget--
		if url, ok := o.assets.MaterializePerson(ctx, personID, src); ok {
			return url
		}
		return src
	}

	castCredits := append([]tmdb.CastCredit(nil), credits.Cast...)
	sort.SliceStable(castCredits, func(i, j int) bool { return castCredits[i].Order < castCredits[j].Order })
	if len(castCredits) > maxCast {
		castCredits = castCredits[:maxCast]
	}
	cast := make([]model.CastMember, 0, len(castCredits))
	for _, c := range castCredits {
		cast = append(cast, model.CastMember{
			PersonID:  c.ID,
			Name:      c.Name,
			Character: c.Character,
			Order:     c.Order,
			PhotoURL:  photo(c.ID, c.ProfilePath),
		})
	}

	var crewCredits []tmdb.CrewCredit
	seen := make(map[string]bool)
	for _, c := range credits.Crew {
		if _, ok := keyJobs[c.Job]; !ok {
			continue
		}
		key := strconv.FormatInt(c.ID, 10) + "/" + c.Job
		if seen[key] {
			continue
		}
		seen[key] = true
		crewCredits = append(crewCredits, c)
	}
	sort.SliceStable(crewCredits, func(i, j int) bool { return keyJobs[crewCredits[i].Job] < keyJobs[crewCredits[j].Job] })
	if len(crewCredits) > maxCrew {
		crewCredits = crewCredits[:maxCrew]
	}
	crew := make([]model.CrewMember, 0, len(crewCredits))
	for _, c := range crewCredits {
		crew = append(crew, model.CrewMember{
			PersonID:   c.ID,
			Name:       c.Name,
			Job:        c.Job,
			Department: c.Department,
			PhotoURL:   photo(c.ID, c.ProfilePath),
		})
	}
	return cast, crew
}

// buildTrailers keeps YouTube trailers and teasers, official trailers first,
// and resolves a thumbnail for each.
func buildTrailers(ctx context.Context, am AssetMaterializer, externalID int64, videos []tmdb.Video) []model.Trailer {
	var picked []tmdb.Video
	for _, v := range videos {
		if v.Site != "YouTube" || v.Key == "" {
			continue
		}
		if v.Type != "Trailer" && v.Type != "Teaser" {
			continue
		}
		picked = append(picked, v)
	}
	rank := func(v tmdb.Video) int {
		r := 0
		if v.Type != "Trailer" {
			r += 2
		}
		if !v.Official {
			r++
		}
		return r
	}
	sort.SliceStable(picked, func(i, j int) bool { return rank(picked[i]) < rank(picked[j]) })
	if len(picked) > maxTrailers {
		picked = picked[:maxTrailers]
	}

	trailers := make([]model.Trailer, 0, len(picked))
	for _, v := range picked {
		path := fmt.Sprintf("works/%d/trailer_%s", externalID, v.Key)
		thumb, ok := am.MaterializeVideoThumbnail(ctx, v.Key, path)
		if !ok {
			thumb = assets.ThumbnailURL("", v.Key, "hqdefault")
		}
		trailers = append(trailers, model.Trailer{
			Key:          v.Key,
			Name:         v.Name,
			Type:         v.Type,
			Official:     v.Official,
			URL:          "https://www.youtube.com/watch?v=" + v.Key,
			ThumbnailURL: thumb,
		})
	}
	return trailers
}

func similarIDs(page *tmdb.ListPage) []int64 {
	if page == nil {
		return []int64{}
	}
	ids := make([]int64, 0, min(len(page.Results), maxSimilar))
	for _, r := range page.Results {
		if len(ids) >= maxSimilar {
			break
		}
		if r.ID > 0 {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func releaseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
