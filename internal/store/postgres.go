package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cinecard/cinecard/internal/db"
	"github.com/cinecard/cinecard/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, opts ...Option) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	o := buildOptions(opts)
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: o.now}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns the pool.
func NewPostgresFromPool(pool db.Pool, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{pool: pool, now: o.now}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS works (
	id                TEXT PRIMARY KEY,
	external_id       BIGINT NOT NULL UNIQUE,
	title             TEXT NOT NULL DEFAULT '',
	original_title    TEXT NOT NULL DEFAULT '',
	release_date      TEXT NOT NULL DEFAULT '',
	release_year      INTEGER NOT NULL DEFAULT 0,
	popularity        DOUBLE PRECISION NOT NULL DEFAULT 0,
	ingestion_status  TEXT NOT NULL DEFAULT 'pending',
	ingest_started_at TIMESTAMPTZ,
	last_refreshed_at TIMESTAMPTZ,
	last_error        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS work_meta (
	work_id           TEXT PRIMARY KEY REFERENCES works(id),
	runtime           INTEGER NOT NULL DEFAULT 0,
	tagline           TEXT NOT NULL DEFAULT '',
	overview          TEXT NOT NULL DEFAULT '',
	certification     TEXT NOT NULL DEFAULT '',
	original_language TEXT NOT NULL DEFAULT '',
	genres            JSONB NOT NULL DEFAULT '[]',
	images            JSONB NOT NULL DEFAULT '{}',
	cast_members      JSONB NOT NULL DEFAULT '[]',
	crew_members      JSONB NOT NULL DEFAULT '[]',
	trailers          JSONB NOT NULL DEFAULT '[]',
	similar_ids       JSONB NOT NULL DEFAULT '[]',
	schema_version    INTEGER NOT NULL DEFAULT 1,
	fetched_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rating_sources (
	work_id      TEXT NOT NULL REFERENCES works(id),
	source       TEXT NOT NULL,
	vote_average DOUBLE PRECISION NOT NULL,
	vote_count   INTEGER NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (work_id, source)
);

CREATE TABLE IF NOT EXISTS aggregates (
	work_id         TEXT NOT NULL REFERENCES works(id),
	method_version  TEXT NOT NULL,
	score           DOUBLE PRECISION NOT NULL,
	confidence_low  DOUBLE PRECISION NOT NULL,
	confidence_high DOUBLE PRECISION NOT NULL,
	confidence      TEXT NOT NULL,
	vote_count      INTEGER NOT NULL,
	computed_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (work_id, method_version)
);

CREATE TABLE IF NOT EXISTS work_cards (
	work_id        TEXT PRIMARY KEY REFERENCES works(id),
	full_card      JSONB NOT NULL,
	short_card     JSONB NOT NULL,
	etag           TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	computed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS refresh_queue (
	id           TEXT PRIMARY KEY,
	work_id      TEXT NOT NULL UNIQUE REFERENCES works(id),
	priority     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'queued',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	queued_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at   TIMESTAMPTZ,
	processed_at TIMESTAMPTZ,
	last_error   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	max_new      INTEGER NOT NULL,
	checked      INTEGER NOT NULL,
	skipped      INTEGER NOT NULL,
	ingested     INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	titles       JSONB NOT NULL DEFAULT '[]',
	errors       JSONB NOT NULL DEFAULT '[]',
	started_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_works_status_refreshed ON works(ingestion_status, last_refreshed_at);
CREATE INDEX IF NOT EXISTS idx_refresh_queue_claim ON refresh_queue(status, priority DESC, queued_at);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started ON ingestion_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Works ---

const pgWorkColumns = `id, external_id, title, original_title, release_date, release_year, popularity,
	ingestion_status, ingest_started_at, last_refreshed_at, last_error, created_at, updated_at`

func (s *PostgresStore) EnsureWork(ctx context.Context, externalID int64) (*model.Work, error) {
	now := s.now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO works (id, external_id, ingestion_status, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $4)
		ON CONFLICT (external_id) DO NOTHING`,
		uuid.NewString(), externalID, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure work %d", externalID)
	}
	w, err := s.GetWorkByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, eris.Errorf("work not found: %d", externalID)
	}
	return w, nil
}

func (s *PostgresStore) GetWork(ctx context.Context, id string) (*model.Work, error) {
	w, err := scanPgWork(s.pool.QueryRow(ctx, `SELECT `+pgWorkColumns+` FROM works WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get work %s", id)
	}
	return w, nil
}

func (s *PostgresStore) GetWorkByExternalID(ctx context.Context, externalID int64) (*model.Work, error) {
	w, err := scanPgWork(s.pool.QueryRow(ctx, `SELECT `+pgWorkColumns+` FROM works WHERE external_id = $1`, externalID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get work by external id %d", externalID)
	}
	return w, nil
}

func (s *PostgresStore) GetWorkMeta(ctx context.Context, workID string) (*model.WorkMeta, error) {
	var m model.WorkMeta
	var genres, images, cast, crew, trailers, similar []byte
	err := s.pool.QueryRow(ctx,
		`SELECT work_id, runtime, tagline, overview, certification, original_language,
			genres, images, cast_members, crew_members, trailers, similar_ids, schema_version, fetched_at
		FROM work_meta WHERE work_id = $1`, workID,
	).Scan(&m.WorkID, &m.Runtime, &m.Tagline, &m.Overview, &m.Certification, &m.OriginalLanguage,
		&genres, &images, &cast, &crew, &trailers, &similar, &m.SchemaVersion, &m.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get work meta %s", workID)
	}
	if err := decodeMeta(&m, genres, images, cast, crew, trailers, similar); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ClaimIngestion(ctx context.Context, workID string, lease time.Duration) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE works SET ingestion_status = 'ingesting', ingest_started_at = $1, updated_at = $1
		WHERE id = $2 AND (ingestion_status <> 'ingesting' OR ingest_started_at IS NULL OR ingest_started_at < $3)`,
		now, workID, now.Add(-lease),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim ingestion %s", workID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkIngestionFailed(ctx context.Context, workID, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE works SET ingestion_status = 'failed', last_error = $1, updated_at = $2 WHERE id = $3`,
		msg, s.now().UTC(), workID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark ingestion failed %s", workID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("work not found: %s", workID)
	}
	return nil
}

func (s *PostgresStore) IsStale(ctx context.Context, workID string, maxAge time.Duration) (bool, error) {
	var stale bool
	err := s.pool.QueryRow(ctx,
		`SELECT last_refreshed_at IS NULL OR last_refreshed_at < $1 FROM works WHERE id = $2`,
		s.now().UTC().Add(-maxAge), workID,
	).Scan(&stale)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Errorf("work not found: %s", workID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: is stale %s", workID)
	}
	return stale, nil
}

func (s *PostgresStore) ListStaleWorks(ctx context.Context, maxAge time.Duration, limit int) ([]model.Work, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgWorkColumns+` FROM works
		WHERE ingestion_status = 'complete' AND (last_refreshed_at IS NULL OR last_refreshed_at < $1)
		ORDER BY last_refreshed_at ASC NULLS FIRST LIMIT $2`,
		s.now().UTC().Add(-maxAge), defaultLimit(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale works")
	}
	defer rows.Close()

	var works []model.Work
	for rows.Next() {
		w, err := scanPgWork(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list stale works")
		}
		works = append(works, *w)
	}
	return works, eris.Wrap(rows.Err(), "postgres: list stale works")
}

func (s *PostgresStore) ExistingExternalIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT external_id FROM works WHERE external_id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing external ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan external id")
		}
		found[id] = true
	}
	return found, eris.Wrap(rows.Err(), "postgres: existing external ids")
}

func (s *PostgresStore) CountWorks(ctx context.Context) (model.WorkCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT ingestion_status, COUNT(*) FROM works GROUP BY ingestion_status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count works")
	}
	defer rows.Close()

	counts := model.WorkCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan work count")
		}
		counts[model.IngestionStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count works")
}

// --- Ingestion ---

func (s *PostgresStore) SaveIngestion(ctx context.Context, b *model.IngestionBundle) error {
	enc, err := encodeMeta(&b.Meta)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	w := b.Work

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE works SET title = $1, original_title = $2, release_date = $3, release_year = $4, popularity = $5,
				ingestion_status = 'complete', last_refreshed_at = $6, last_error = '', updated_at = $6
			WHERE id = $7`,
			w.Title, w.OriginalTitle, w.ReleaseDate, w.ReleaseYear, w.Popularity, now, w.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update work %s", w.ID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("work not found: %s", w.ID)
		}

		m := b.Meta
		_, err = tx.Exec(ctx,
			`INSERT INTO work_meta (work_id, runtime, tagline, overview, certification, original_language,
				genres, images, cast_members, crew_members, trailers, similar_ids, schema_version, fetched_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (work_id) DO UPDATE SET
				runtime = EXCLUDED.runtime, tagline = EXCLUDED.tagline, overview = EXCLUDED.overview,
				certification = EXCLUDED.certification, original_language = EXCLUDED.original_language,
				genres = EXCLUDED.genres, images = EXCLUDED.images, cast_members = EXCLUDED.cast_members,
				crew_members = EXCLUDED.crew_members, trailers = EXCLUDED.trailers, similar_ids = EXCLUDED.similar_ids,
				schema_version = GREATEST(work_meta.schema_version, EXCLUDED.schema_version),
				fetched_at = EXCLUDED.fetched_at`,
			w.ID, m.Runtime, m.Tagline, m.Overview, m.Certification, m.OriginalLanguage,
			string(enc.genres), string(enc.images), string(enc.cast), string(enc.crew), string(enc.trailers), string(enc.similar),
			m.SchemaVersion, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert work meta %s", w.ID)
		}

		for _, r := range b.Ratings {
			_, err = tx.Exec(ctx,
				`INSERT INTO rating_sources (work_id, source, vote_average, vote_count, updated_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (work_id, source) DO UPDATE SET
					vote_average = EXCLUDED.vote_average, vote_count = EXCLUDED.vote_count, updated_at = EXCLUDED.updated_at`,
				w.ID, r.Source, r.VoteAverage, r.VoteCount, now,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: upsert rating %s/%s", w.ID, r.Source)
			}
		}

		a := b.Aggregate
		_, err = tx.Exec(ctx,
			`INSERT INTO aggregates (work_id, method_version, score, confidence_low, confidence_high, confidence, vote_count, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (work_id, method_version) DO UPDATE SET
				score = EXCLUDED.score, confidence_low = EXCLUDED.confidence_low, confidence_high = EXCLUDED.confidence_high,
				confidence = EXCLUDED.confidence, vote_count = EXCLUDED.vote_count, computed_at = EXCLUDED.computed_at`,
			w.ID, a.MethodVersion, a.Score, a.ConfidenceLow, a.ConfidenceHigh, string(a.Confidence), a.VoteCount, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert aggregate %s", w.ID)
		}

		c := b.Card
		_, err = tx.Exec(ctx,
			`INSERT INTO work_cards (work_id, full_card, short_card, etag, schema_version, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (work_id) DO UPDATE SET
				full_card = EXCLUDED.full_card, short_card = EXCLUDED.short_card, etag = EXCLUDED.etag,
				schema_version = EXCLUDED.schema_version, computed_at = EXCLUDED.computed_at`,
			w.ID, string(c.Full), string(c.Short), c.ETag, c.SchemaVersion, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert card %s", w.ID)
		}
		return nil
	})
}

// --- Cards ---

func (s *PostgresStore) GetCard(ctx context.Context, workID string) (*model.CardCache, error) {
	var c model.CardCache
	var full, short []byte
	err := s.pool.QueryRow(ctx,
		`SELECT work_id, full_card, short_card, etag, schema_version, computed_at FROM work_cards WHERE work_id = $1`,
		workID,
	).Scan(&c.WorkID, &full, &short, &c.ETag, &c.SchemaVersion, &c.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get card %s", workID)
	}
	c.Full = full
	c.Short = short
	return &c, nil
}

func (s *PostgresStore) UpgradeCard(ctx context.Context, c *model.CardCache) (bool, error) {
	now := s.now().UTC()
	var upgraded bool
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE work_cards SET full_card = $1, short_card = $2, etag = $3, schema_version = $4, computed_at = $5
			WHERE work_id = $6 AND schema_version < $4`,
			string(c.Full), string(c.Short), c.ETag, c.SchemaVersion, now, c.WorkID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upgrade card %s", c.WorkID)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE work_meta SET schema_version = GREATEST(schema_version, $1) WHERE work_id = $2`,
			c.SchemaVersion, c.WorkID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: bump meta schema %s", c.WorkID)
		}
		upgraded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return upgraded, nil
}

// --- Refresh queue ---

const pgQueueColumns = `id, work_id, priority, status, retry_count, queued_at, claimed_at, processed_at, last_error`

func (s *PostgresStore) Enqueue(ctx context.Context, workID string, priority int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO refresh_queue (id, work_id, priority, status, retry_count, queued_at, last_error)
		VALUES ($1, $2, $3, 'queued', 0, $4, '')
		ON CONFLICT (work_id) DO UPDATE SET
			priority = EXCLUDED.priority, status = 'queued', retry_count = 0, queued_at = EXCLUDED.queued_at,
			claimed_at = NULL, processed_at = NULL, last_error = ''
		WHERE refresh_queue.status = 'completed'`,
		uuid.NewString(), workID, priority, s.now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: enqueue %s", workID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Requeue(ctx context.Context, workID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_queue SET status = 'queued', retry_count = 0, last_error = '', queued_at = $1,
			claimed_at = NULL, processed_at = NULL
		WHERE work_id = $2 AND status IN ('failed', 'completed')`,
		s.now().UTC(), workID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: requeue %s", workID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ClaimQueueItems(ctx context.Context, limit int) ([]model.QueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE refresh_queue SET status = 'processing', claimed_at = $1
		WHERE status = 'queued' AND id IN (
			SELECT id FROM refresh_queue WHERE status = 'queued'
			ORDER BY priority DESC, queued_at ASC LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+pgQueueColumns,
		s.now().UTC(), defaultLimit(limit, 10),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim queue items")
	}
	defer rows.Close()

	items, err := scanPgQueueItems(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim queue items")
	}
	sortClaimed(items)
	return items, nil
}

func (s *PostgresStore) CompleteQueueItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_queue SET status = 'completed', processed_at = $1, last_error = ''
		WHERE id = $2 AND status = 'processing'`,
		s.now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete queue item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("queue item not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailQueueItem(ctx context.Context, id, msg string, maxRetries int) (model.QueueStatus, int, error) {
	var status string
	var retries int
	err := s.pool.QueryRow(ctx,
		`UPDATE refresh_queue SET
			retry_count = retry_count + 1,
			last_error = $1,
			processed_at = $2,
			status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'queued' END
		WHERE id = $4 AND status = 'processing'
		RETURNING status, retry_count`,
		msg, s.now().UTC(), maxRetries, id,
	).Scan(&status, &retries)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, eris.Errorf("queue item not found: %s", id)
	}
	if err != nil {
		return "", 0, eris.Wrapf(err, "postgres: fail queue item %s", id)
	}
	return model.QueueStatus(status), retries, nil
}

func (s *PostgresStore) GetQueueItem(ctx context.Context, workID string) (*model.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgQueueColumns+` FROM refresh_queue WHERE work_id = $1`, workID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get queue item %s", workID)
	}
	defer rows.Close()

	items, err := scanPgQueueItems(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get queue item %s", workID)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (s *PostgresStore) ListQueueItems(ctx context.Context, filter QueueFilter) ([]model.QueueItem, error) {
	query := `SELECT ` + pgQueueColumns + ` FROM refresh_queue`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	args = append(args, defaultLimit(filter.Limit, 50))
	if len(args) == 2 {
		query += ` ORDER BY priority DESC, queued_at ASC LIMIT $2`
	} else {
		query += ` ORDER BY priority DESC, queued_at ASC LIMIT $1`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queue items")
	}
	defer rows.Close()

	items, err := scanPgQueueItems(rows)
	return items, eris.Wrap(err, "postgres: list queue items")
}

func (s *PostgresStore) CountQueue(ctx context.Context) (model.QueueCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM refresh_queue GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count queue")
	}
	defer rows.Close()

	counts := model.QueueCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue count")
		}
		counts[model.QueueStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count queue")
}

// --- Run logs ---

func (s *PostgresStore) InsertRunLog(ctx context.Context, l *model.IngestionRunLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	titles, errs, err := encodeRunLog(l)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, source, trigger_type, max_new, checked, skipped, ingested, failed,
			titles, errors, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.Source, string(l.Trigger), l.MaxNew, l.Checked, l.Skipped, l.Ingested, l.Failed,
		string(titles), string(errs), l.StartedAt.UTC(), l.DurationMS,
	)
	return eris.Wrapf(err, "postgres: insert run log %s", l.ID)
}

func (s *PostgresStore) ListRunLogs(ctx context.Context, limit int) ([]model.IngestionRunLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, trigger_type, max_new, checked, skipped, ingested, failed, titles, errors, started_at, duration_ms
		FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`,
		defaultLimit(limit, 20),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run logs")
	}
	defer rows.Close()

	var logs []model.IngestionRunLog
	for rows.Next() {
		var l model.IngestionRunLog
		var trigger string
		var titles, errs []byte
		if err := rows.Scan(&l.ID, &l.Source, &trigger, &l.MaxNew, &l.Checked, &l.Skipped, &l.Ingested, &l.Failed,
			&titles, &errs, &l.StartedAt, &l.DurationMS); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run log")
		}
		l.Trigger = model.RunTrigger(trigger)
		if err := decodeRunLog(&l, titles, errs); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list run logs")
}

// --- helpers ---

func scanPgWork(row scannable) (*model.Work, error) {
	var w model.Work
	var status string
	err := row.Scan(&w.ID, &w.ExternalID, &w.Title, &w.OriginalTitle, &w.ReleaseDate, &w.ReleaseYear, &w.Popularity,
		&status, &w.IngestStartedAt, &w.LastRefreshedAt, &w.LastError, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.IngestionStatus = model.IngestionStatus(status)
	return &w, nil
}

func scanPgQueueItems(rows pgx.Rows) ([]model.QueueItem, error) {
	var items []model.QueueItem
	for rows.Next() {
		var it model.QueueItem
		var status string
		if err := rows.Scan(&it.ID, &it.WorkID, &it.Priority, &status, &it.RetryCount,
			&it.QueuedAt, &it.ClaimedAt, &it.ProcessedAt, &it.LastError); err != nil {
			return nil, err
		}
		it.Status = model.QueueStatus(status)
		items = append(items, it)
	}
	return items, rows.Err()
}
