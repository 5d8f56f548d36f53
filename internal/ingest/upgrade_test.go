package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinecard/cinecard/internal/model"
)

// downgradeCard rewrites a stored card as a version-1 document without the
// fields later schema versions introduced.
func downgradeCard(t *testing.T, h *harness, externalID int64) *model.CardCache {
	t.Helper()
	ctx := context.Background()

	w, err := h.store.GetWorkByExternalID(ctx, externalID)
	require.NoError(t, err)
	meta, err := h.store.GetWorkMeta(ctx, w.ID)
	require.NoError(t, err)
	card, err := h.store.GetCard(ctx, w.ID)
	require.NoError(t, err)

	strip := func(raw json.RawMessage, keys ...string) json.RawMessage {
		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &doc))
		for _, k := range keys {
			delete(doc, k)
		}
		doc["schema_version"] = json.RawMessage("1")
		out, err := json.Marshal(doc)
		require.NoError(t, err)
		return out
	}
	full := strip(card.Full, "trailers", "original_language_name", "logline")
	short := strip(card.Short, "has_trailer", "logline")

	ratings := []model.RatingSource{tmdbRating(w.ID, 8.4, 35000)}
	v1 := model.CardCache{WorkID: w.ID, Full: full, Short: short, ETag: computeETag(full), SchemaVersion: 1}
	require.NoError(t, h.store.SaveIngestion(ctx, &model.IngestionBundle{
		Work:      *w,
		Meta:      *meta,
		Ratings:   ratings,
		Aggregate: aggregate(w.ID, ratings),
		Card:      v1,
	}))
	return &v1
}

func TestGetCard_UpgradesOldSchema(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()

	_, err := h.orch.Ingest(ctx, 27205, false)
	require.NoError(t, err)
	old := downgradeCard(t, h, 27205)
	h.provider.reset()
	h.notifier.events = nil

	res, err := h.orch.GetCard(ctx, 27205)
	require.NoError(t, err)
	assert.Equal(t, StatusCachedUpgraded, res.Status)
	assert.NotEqual(t, old.ETag, res.ETag)

	var before, after map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(old.Full, &before))
	require.NoError(t, json.Unmarshal(res.Card, &after))
	for k, v := range before {
		if k == "schema_version" {
			continue
		}
		assert.JSONEq(t, string(v), string(after[k]), "field %s must survive the upgrade", k)
	}

	c := decodeCard(t, res.Card)
	assert.Equal(t, CurrentSchemaVersion, c.SchemaVersion)
	require.Len(t, c.Trailers, 2)
	require.NotNil(t, c.OriginalLanguageName)
	assert.Equal(t, "English", *c.OriginalLanguageName)
	require.NotNil(t, c.Logline)
	assert.Equal(t, "A thief enters dreams to plant one idea.", *c.Logline)

	var short ShortCard
	require.NoError(t, json.Unmarshal(res.Short, &short))
	assert.Equal(t, CurrentSchemaVersion, short.SchemaVersion)
	require.NotNil(t, short.HasTrailer)
	assert.True(t, *short.HasTrailer)

	assert.Equal(t, 1, h.provider.count("videos"))
	assert.Equal(t, 1, h.provider.total(), "only the trailer backfill calls the provider")

	stored, err := h.store.GetCard(ctx, res.WorkID)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, stored.SchemaVersion)
	assert.Equal(t, res.ETag, stored.ETag)
	require.Len(t, h.notifier.events, 1)

	// A second read serves the upgraded card as-is.
	again, err := h.orch.GetCard(ctx, 27205)
	require.NoError(t, err)
	assert.Equal(t, StatusCached, again.Status)
	assert.Equal(t, res.ETag, again.ETag)
}

func TestGetCard_UpgradeWithFailingVideos(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()

	_, err := h.orch.Ingest(ctx, 27205, false)
	require.NoError(t, err)
	downgradeCard(t, h, 27205)
	h.provider.setFail("videos", errProvider)

	res, err := h.orch.GetCard(ctx, 27205)
	require.NoError(t, err)
	assert.Equal(t, StatusCachedUpgraded, res.Status)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(res.Card, &doc))
	assert.Equal(t, "null", string(doc["trailers"]))

	var short map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(res.Short, &short))
	assert.Equal(t, "null", string(short["has_trailer"]))
}

func TestIngest_UpgradesOldSchema(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()

	_, err := h.orch.Ingest(ctx, 27205, false)
	require.NoError(t, err)
	downgradeCard(t, h, 27205)
	h.provider.reset()

	res, err := h.orch.Ingest(ctx, 27205, false)
	require.NoError(t, err)
	assert.Equal(t, StatusUpgraded, res.Status)
	assert.Equal(t, 0, h.provider.count("details"))
}

func TestGetCard_UpgradeErrorServesStoredCard(t *testing.T) {
	failing := []Migration{
		{Version: 2, Name: "broken", Apply: func(context.Context, UpgradeContext, StoredCard) (Fields, error) {
			return Fields{}, eris.New("boom")
		}},
		{Version: 3, Name: "noop", Apply: func(context.Context, UpgradeContext, StoredCard) (Fields, error) {
			return Fields{}, nil
		}},
	}
	h := newHarness(t, testOptions(), WithMigrations(failing))
	ctx := context.Background()

	_, err := h.orch.Ingest(ctx, 27205, false)
	require.NoError(t, err)
	old := downgradeCard(t, h, 27205)

	res, err := h.orch.GetCard(ctx, 27205)
	require.NoError(t, err)
	assert.Equal(t, StatusCached, res.Status)
	assert.Equal(t, old.ETag, res.ETag)
	assert.Contains(t, res.Warning, "boom")
}

func TestApplyMigrations_NeverOverwrites(t *testing.T) {
	migrations := []Migration{
		{Version: 2, Name: "two", Apply: func(context.Context, UpgradeContext, StoredCard) (Fields, error) {
			return Fields{
				Full:  map[string]any{"title": "Clobbered", "added": 2},
				Short: map[string]any{"flag": true},
			}, nil
		}},
		{Version: 3, Name: "three", Apply: func(_ context.Context, _ UpgradeContext, stored StoredCard) (Fields, error) {
			// Later migrations see earlier additions.
			var added int
			_ = json.Unmarshal(stored["added"], &added)
			return Fields{Full: map[string]any{"added": 99, "seen": added}}, nil
		}},
	}
	card := &model.CardCache{
		WorkID:        "w1",
		Full:          json.RawMessage(`{"schema_version":1,"title":"Original"}`),
		Short:         json.RawMessage(`{"schema_version":1}`),
		SchemaVersion: 1,
	}

	out, err := applyMigrations(context.Background(), UpgradeContext{}, card, migrations, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, out.SchemaVersion)
	assert.JSONEq(t, `{"schema_version":3,"title":"Original","added":2,"seen":2}`, string(out.Full))
	assert.JSONEq(t, `{"schema_version":3,"flag":true}`, string(out.Short))
	assert.Equal(t, computeETag(out.Full), out.ETag)
	assert.JSONEq(t, `{"schema_version":1,"title":"Original"}`, string(card.Full), "input is not modified")
}

func TestApplyMigrations_StopsAtTarget(t *testing.T) {
	called := 0
	m := func(context.Context, UpgradeContext, StoredCard) (Fields, error) {
		called++
		return Fields{}, nil
	}
	card := &model.CardCache{
		Full:          json.RawMessage(`{"schema_version":2}`),
		Short:         json.RawMessage(`{}`),
		SchemaVersion: 2,
	}
	out, err := applyMigrations(context.Background(), UpgradeContext{}, card,
		[]Migration{{Version: 2, Apply: m}, {Version: 3, Apply: m}, {Version: 4, Apply: m}}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.Equal(t, 3, out.SchemaVersion)
}

func TestApplyMigrations_RejectsNonObject(t *testing.T) {
	card := &model.CardCache{Full: json.RawMessage(`null`), Short: json.RawMessage(`{}`), SchemaVersion: 1}
	_, err := applyMigrations(context.Background(), UpgradeContext{}, card, Migrations, CurrentSchemaVersion)
	require.Error(t, err)
}

func TestLanguageName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"en", "English"},
		{"fr", "French"},
		{"ja", "Japanese"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := languageName(tt.code)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
	assert.Nil(t, languageName(""))
	assert.Nil(t, languageName("not a language!"))
}

func TestWriteLogline(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, writeLogline(ctx, nil, LoglineInput{Title: "x"}))
	assert.Nil(t, writeLogline(ctx, &fakeLogliner{err: eris.New("down")}, LoglineInput{Title: "x"}))

	got := writeLogline(ctx, &fakeLogliner{line: "hook"}, LoglineInput{Title: "x"})
	require.NotNil(t, got)
	assert.Equal(t, "hook", *got)
}
