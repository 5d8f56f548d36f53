package ingest

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/pkg/tmdb"
)

// CurrentSchemaVersion is the card schema this build writes. Stored cards
// below it are upgraded lazily on read.
const CurrentSchemaVersion = 3

// StoredCard is a decoded card document, keyed by top-level field.
type StoredCard map[string]json.RawMessage

// Fields are the values a migration adds to the full and short cards.
type Fields struct {
	Full  map[string]any
	Short map[string]any
}

// UpgradeContext carries what a migration may consult besides the stored card.
type UpgradeContext struct {
	Work     *model.Work
	Meta     *model.WorkMeta
	Provider tmdb.Client
	Assets   AssetMaterializer
	Logliner Logliner
}

// Migration adds the fields introduced by one schema version. Apply must not
// modify the stored card; its result is merged without overwriting keys that
// already exist.
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, uc UpgradeContext, stored StoredCard) (Fields, error)
}

// Migrations is the ordered list of schema increments after version 1.
var Migrations = []Migration{
	{Version: 2, Name: "trailers", Apply: migrateTrailers},
	{Version: 3, Name: "language-and-logline", Apply: migrateLanguageAndLogline},
}

func migrateTrailers(ctx context.Context, uc UpgradeContext, _ StoredCard) (Fields, error) {
	videos, err := uc.Provider.Videos(ctx, uc.Work.ExternalID)
	if err != nil {
		zap.L().Warn("ingest: trailer backfill failed",
			zap.Int64("external_id", uc.Work.ExternalID), zap.Error(err))
		return Fields{
			Full:  map[string]any{"trailers": nil},
			Short: map[string]any{"has_trailer": nil},
		}, nil
	}
	trailers := buildTrailers(ctx, uc.Assets, uc.Work.ExternalID, videos.Results)
	return Fields{
		Full:  map[string]any{"trailers": trailers},
		Short: map[string]any{"has_trailer": len(trailers) > 0},
	}, nil
}

func migrateLanguageAndLogline(ctx context.Context, uc UpgradeContext, stored StoredCard) (Fields, error) {
	code := ""
	if uc.Meta != nil {
		code = uc.Meta.OriginalLanguage
	}
	if code == "" {
		_ = json.Unmarshal(stored["original_language"], &code)
	}

	var in LoglineInput
	in.Title = uc.Work.Title
	in.Year = uc.Work.ReleaseYear
	if uc.Meta != nil {
		in.Overview = uc.Meta.Overview
		in.Genres = uc.Meta.Genres
	}
	if in.Overview == "" {
		_ = json.Unmarshal(stored["overview"], &in.Overview)
	}

	logline := writeLogline(ctx, uc.Logliner, in)
	return Fields{
		Full: map[string]any{
			"original_language_name": languageName(code),
			"logline":                logline,
		},
		Short: map[string]any{"logline": logline},
	}, nil
}

// languageName returns the English display name of an ISO 639 code, or nil
// when the code is empty or unknown.
func languageName(code string) *string {
	if code == "" {
		return nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return nil
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return nil
	}
	return &name
}

// writeLogline returns nil when no Logliner is configured or it fails.
func writeLogline(ctx context.Context, l Logliner, in LoglineInput) *string {
	if l == nil {
		return nil
	}
	line, err := l.Logline(ctx, in)
	if err != nil {
		zap.L().Debug("ingest: logline unavailable", zap.String("title", in.Title), zap.Error(err))
		return nil
	}
	return &line
}
