package ingest

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/model"
)

// applyMigrations runs every migration above the card's version up to target
// and returns the merged card. The input card is not modified.
func applyMigrations(ctx context.Context, uc UpgradeContext, card *model.CardCache, migrations []Migration, target int) (*model.CardCache, error) {
	var full, short StoredCard
	if err := json.Unmarshal(card.Full, &full); err != nil {
		return nil, eris.Wrap(err, "ingest: decode stored card")
	}
	if err := json.Unmarshal(card.Short, &short); err != nil {
		return nil, eris.Wrap(err, "ingest: decode stored short card")
	}
	if full == nil || short == nil {
		return nil, eris.New("ingest: stored card is not an object")
	}

	version := card.SchemaVersion
	for _, m := range migrations {
		if m.Version <= version || m.Version > target {
			continue
		}
		fields, err := m.Apply(ctx, uc, full)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: migration v%d %s", m.Version, m.Name)
		}
		if err := mergeFields(full, fields.Full); err != nil {
			return nil, err
		}
		if err := mergeFields(short, fields.Short); err != nil {
			return nil, err
		}
		version = m.Version
	}

	v, _ := json.Marshal(version)
	full["schema_version"] = v
	short["schema_version"] = v

	fullJSON, err := json.Marshal(full)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: encode upgraded card")
	}
	shortJSON, err := json.Marshal(short)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: encode upgraded short card")
	}
	return &model.CardCache{
		WorkID:        card.WorkID,
		Full:          fullJSON,
		Short:         shortJSON,
		ETag:          computeETag(fullJSON),
		SchemaVersion: version,
	}, nil
}

// mergeFields adds fields to dst, leaving existing keys untouched.
func mergeFields(dst StoredCard, fields map[string]any) error {
	for k, v := range fields {
		if _, ok := dst[k]; ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return eris.Wrapf(err, "ingest: encode field %s", k)
		}
		dst[k] = raw
	}
	return nil
}

// upgradeCard brings a stored card to the current schema and persists it. If
// another caller upgraded the card first, the stored winner is returned.
func (o *Orchestrator) upgradeCard(ctx context.Context, w *model.Work, card *model.CardCache) (*model.CardCache, error) {
	meta, err := o.store.GetWorkMeta(ctx, w.ID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load meta for upgrade")
	}

	uc := UpgradeContext{
		Work:     w,
		Meta:     meta,
		Provider: o.provider,
		Assets:   o.assets,
		Logliner: o.logliner,
	}
	upgraded, err := applyMigrations(ctx, uc, card, o.migrations, CurrentSchemaVersion)
	if err != nil {
		return nil, err
	}

	ok, err := o.store.UpgradeCard(ctx, upgraded)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: persist upgraded card")
	}
	if !ok {
		current, err := o.store.GetCard(ctx, w.ID)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: reload card after upgrade race")
		}
		if current == nil {
			return nil, eris.Errorf("ingest: card vanished during upgrade: %s", w.ID)
		}
		return current, nil
	}

	o.log.Info("card upgraded",
		zap.Int64("external_id", w.ExternalID),
		zap.Int("from", card.SchemaVersion),
		zap.Int("to", upgraded.SchemaVersion),
	)
	o.notify(ctx, w, upgraded)
	return upgraded, nil
}
