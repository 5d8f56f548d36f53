package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cinecard/cinecard/internal/model"
)

// sqliteTime is fixed-width UTC so timestamps compare and sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	o := buildOptions(opts)
	return &SQLiteStore{db: db, now: o.now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS works (
	id                TEXT PRIMARY KEY,
	external_id       INTEGER NOT NULL UNIQUE,
	title             TEXT NOT NULL DEFAULT '',
	original_title    TEXT NOT NULL DEFAULT '',
	release_date      TEXT NOT NULL DEFAULT '',
	release_year      INTEGER NOT NULL DEFAULT 0,
	popularity        REAL NOT NULL DEFAULT 0,
	ingestion_status  TEXT NOT NULL DEFAULT 'pending',
	ingest_started_at TEXT,
	last_refreshed_at TEXT,
	last_error        TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS work_meta (
	work_id           TEXT PRIMARY KEY REFERENCES works(id),
	runtime           INTEGER NOT NULL DEFAULT 0,
	tagline           TEXT NOT NULL DEFAULT '',
	overview          TEXT NOT NULL DEFAULT '',
	certification     TEXT NOT NULL DEFAULT '',
	original_language TEXT NOT NULL DEFAULT '',
	genres            TEXT NOT NULL DEFAULT '[]',
	images            TEXT NOT NULL DEFAULT '{}',
	cast_members      TEXT NOT NULL DEFAULT '[]',
	crew_members      TEXT NOT NULL DEFAULT '[]',
	trailers          TEXT NOT NULL DEFAULT '[]',
	similar_ids       TEXT NOT NULL DEFAULT '[]',
	schema_version    INTEGER NOT NULL DEFAULT 1,
	fetched_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rating_sources (
	work_id      TEXT NOT NULL REFERENCES works(id),
	source       TEXT NOT NULL,
	vote_average REAL NOT NULL,
	vote_count   INTEGER NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (work_id, source)
);

CREATE TABLE IF NOT EXISTS aggregates (
	work_id         TEXT NOT NULL REFERENCES works(id),
	method_version  TEXT NOT NULL,
	score           REAL NOT NULL,
	confidence_low  REAL NOT NULL,
	confidence_high REAL NOT NULL,
	confidence      TEXT NOT NULL,
	vote_count      INTEGER NOT NULL,
	computed_at     TEXT NOT NULL,
	PRIMARY KEY (work_id, method_version)
);

CREATE TABLE IF NOT EXISTS work_cards (
	work_id        TEXT PRIMARY KEY REFERENCES works(id),
	full_card      TEXT NOT NULL,
	short_card     TEXT NOT NULL,
	etag           TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	computed_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_queue (
	id           TEXT PRIMARY KEY,
	work_id      TEXT NOT NULL UNIQUE REFERENCES works(id),
	priority     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'queued',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	queued_at    TEXT NOT NULL,
	claimed_at   TEXT,
	processed_at TEXT,
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
	titles       TEXT NOT NULL DEFAULT '[]',
	errors       TEXT NOT NULL DEFAULT '[]',
	started_at   TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_works_status_refreshed ON works(ingestion_status, last_refreshed_at);
CREATE INDEX IF NOT EXISTS idx_refresh_queue_claim ON refresh_queue(status, priority DESC, queued_at);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started ON ingestion_runs(started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ts() string {
	return fmtTime(s.now())
}

// --- Works ---

const sqliteWorkColumns = `id, external_id, title, original_title, release_date, release_year, popularity,
	ingestion_status, ingest_started_at, last_refreshed_at, last_error, created_at, updated_at`

func (s *SQLiteStore) EnsureWork(ctx context.Context, externalID int64) (*model.Work, error) {
	now := s.ts()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO works (id, external_id, ingestion_status, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?)
		ON CONFLICT (external_id) DO NOTHING`,
		uuid.NewString(), externalID, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: ensure work %d", externalID)
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

func (s *SQLiteStore) GetWork(ctx context.Context, id string) (*model.Work, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteWorkColumns+` FROM works WHERE id = ?`, id)
	w, err := scanSQLiteWork(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get work %s", id)
	}
	return w, nil
}

func (s *SQLiteStore) GetWorkByExternalID(ctx context.Context, externalID int64) (*model.Work, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteWorkColumns+` FROM works WHERE external_id = ?`, externalID)
	w, err := scanSQLiteWork(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get work by external id %d", externalID)
	}
	return w, nil
}

func (s *SQLiteStore) GetWorkMeta(ctx context.Context, workID string) (*model.WorkMeta, error) {
	var m model.WorkMeta
	var genres, images, cast, crew, trailers, similar, fetchedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT work_id, runtime, tagline, overview, certification, original_language,
			genres, images, cast_members, crew_members, trailers, similar_ids, schema_version, fetched_at
		FROM work_meta WHERE work_id = ?`, workID,
	).Scan(&m.WorkID, &m.Runtime, &m.Tagline, &m.Overview, &m.Certification, &m.OriginalLanguage,
		&genres, &images, &cast, &crew, &trailers, &similar, &m.SchemaVersion, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get work meta %s", workID)
	}
	if err := decodeMeta(&m, []byte(genres), []byte(images), []byte(cast), []byte(crew), []byte(trailers), []byte(similar)); err != nil {
		return nil, err
	}
	if m.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ClaimIngestion(ctx context.Context, workID string, lease time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE works SET ingestion_status = 'ingesting', ingest_started_at = ?, updated_at = ?
		WHERE id = ? AND (ingestion_status <> 'ingesting' OR ingest_started_at IS NULL OR ingest_started_at < ?)`,
		fmtTime(now), fmtTime(now), workID, fmtTime(now.Add(-lease)),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim ingestion %s", workID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) MarkIngestionFailed(ctx context.Context, workID, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE works SET ingestion_status = 'failed', last_error = ?, updated_at = ? WHERE id = ?`,
		msg, s.ts(), workID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark ingestion failed %s", workID)
	}
	return checkRowsAffected(res, "work", workID)
}

func (s *SQLiteStore) IsStale(ctx context.Context, workID string, maxAge time.Duration) (bool, error) {
	var stale bool
	err := s.db.QueryRowContext(ctx,
		`SELECT last_refreshed_at IS NULL OR last_refreshed_at < ? FROM works WHERE id = ?`,
		fmtTime(s.now().Add(-maxAge)), workID,
	).Scan(&stale)
	if err == sql.ErrNoRows {
		return false, eris.Errorf("work not found: %s", workID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: is stale %s", workID)
	}
	return stale, nil
}

func (s *SQLiteStore) ListStaleWorks(ctx context.Context, maxAge time.Duration, limit int) ([]model.Work, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteWorkColumns+` FROM works
		WHERE ingestion_status = 'complete' AND (last_refreshed_at IS NULL OR last_refreshed_at < ?)
		ORDER BY last_refreshed_at ASC LIMIT ?`,
		fmtTime(s.now().Add(-maxAge)), defaultLimit(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale works")
	}
	defer rows.Close() //nolint:errcheck

	var works []model.Work
	for rows.Next() {
		w, err := scanSQLiteWork(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list stale works")
		}
		works = append(works, *w)
	}
	return works, eris.Wrap(rows.Err(), "sqlite: list stale works")
}

func (s *SQLiteStore) ExistingExternalIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		part := ids[start:end]

		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(part)), ",")

		rows, err := s.db.QueryContext(ctx,
			`SELECT external_id FROM works WHERE external_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing external ids")
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan external id")
			}
			found[id] = true
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing external ids")
		}
	}
	return found, nil
}

func (s *SQLiteStore) CountWorks(ctx context.Context) (model.WorkCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ingestion_status, COUNT(*) FROM works GROUP BY ingestion_status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count works")
	}
	defer rows.Close() //nolint:errcheck

	counts := model.WorkCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan work count")
		}
		counts[model.IngestionStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count works")
}

// --- Ingestion ---

func (s *SQLiteStore) SaveIngestion(ctx context.Context, b *model.IngestionBundle) error {
	enc, err := encodeMeta(&b.Meta)
	if err != nil {
		return err
	}
	now := s.ts()
	w := b.Work

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE works SET title = ?, original_title = ?, release_date = ?, release_year = ?, popularity = ?,
			ingestion_status = 'complete', last_refreshed_at = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		w.Title, w.OriginalTitle, w.ReleaseDate, w.ReleaseYear, w.Popularity, now, now, w.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update work %s", w.ID)
	}
	if err := checkRowsAffected(res, "work", w.ID); err != nil {
		return err
	}

	m := b.Meta
	_, err = tx.ExecContext(ctx,
		`INSERT INTO work_meta (work_id, runtime, tagline, overview, certification, original_language,
			genres, images, cast_members, crew_members, trailers, similar_ids, schema_version, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (work_id) DO UPDATE SET
			runtime = excluded.runtime, tagline = excluded.tagline, overview = excluded.overview,
			certification = excluded.certification, original_language = excluded.original_language,
			genres = excluded.genres, images = excluded.images, cast_members = excluded.cast_members,
			crew_members = excluded.crew_members, trailers = excluded.trailers, similar_ids = excluded.similar_ids,
			schema_version = MAX(work_meta.schema_version, excluded.schema_version),
			fetched_at = excluded.fetched_at`,
		w.ID, m.Runtime, m.Tagline, m.Overview, m.Certification, m.OriginalLanguage,
		string(enc.genres), string(enc.images), string(enc.cast), string(enc.crew), string(enc.trailers), string(enc.similar),
		m.SchemaVersion, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert work meta %s", w.ID)
	}

	for _, r := range b.Ratings {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rating_sources (work_id, source, vote_average, vote_count, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (work_id, source) DO UPDATE SET
				vote_average = excluded.vote_average, vote_count = excluded.vote_count, updated_at = excluded.updated_at`,
			w.ID, r.Source, r.VoteAverage, r.VoteCount, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert rating %s/%s", w.ID, r.Source)
		}
	}

	a := b.Aggregate
	_, err = tx.ExecContext(ctx,
		`INSERT INTO aggregates (work_id, method_version, score, confidence_low, confidence_high, confidence, vote_count, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (work_id, method_version) DO UPDATE SET
			score = excluded.score, confidence_low = excluded.confidence_low, confidence_high = excluded.confidence_high,
			confidence = excluded.confidence, vote_count = excluded.vote_count, computed_at = excluded.computed_at`,
		w.ID, a.MethodVersion, a.Score, a.ConfidenceLow, a.ConfidenceHigh, string(a.Confidence), a.VoteCount, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert aggregate %s", w.ID)
	}

	c := b.Card
	_, err = tx.ExecContext(ctx,
		`INSERT INTO work_cards (work_id, full_card, short_card, etag, schema_version, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (work_id) DO UPDATE SET
			full_card = excluded.full_card, short_card = excluded.short_card, etag = excluded.etag,
			schema_version = excluded.schema_version, computed_at = excluded.computed_at`,
		w.ID, string(c.Full), string(c.Short), c.ETag, c.SchemaVersion, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert card %s", w.ID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit ingestion")
}

// --- Cards ---

func (s *SQLiteStore) GetCard(ctx context.Context, workID string) (*model.CardCache, error) {
	var c model.CardCache
	var full, short, computedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT work_id, full_card, short_card, etag, schema_version, computed_at FROM work_cards WHERE work_id = ?`,
		workID,
	).Scan(&c.WorkID, &full, &short, &c.ETag, &c.SchemaVersion, &computedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get card %s", workID)
	}
	c.Full = json.RawMessage(full)
	c.Short = json.RawMessage(short)
	if c.ComputedAt, err = parseTime(computedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) UpgradeCard(ctx context.Context, c *model.CardCache) (bool, error) {
	now := s.ts()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE work_cards SET full_card = ?, short_card = ?, etag = ?, schema_version = ?, computed_at = ?
		WHERE work_id = ? AND schema_version < ?`,
		string(c.Full), string(c.Short), c.ETag, c.SchemaVersion, now, c.WorkID, c.SchemaVersion,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upgrade card %s", c.WorkID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE work_meta SET schema_version = MAX(schema_version, ?) WHERE work_id = ?`,
		c.SchemaVersion, c.WorkID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: bump meta schema %s", c.WorkID)
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit card upgrade")
	}
	return true, nil
}

// --- Refresh queue ---

const sqliteQueueColumns = `id, work_id, priority, status, retry_count, queued_at, claimed_at, processed_at, last_error`

func (s *SQLiteStore) Enqueue(ctx context.Context, workID string, priority int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_queue (id, work_id, priority, status, retry_count, queued_at, last_error)
		VALUES (?, ?, ?, 'queued', 0, ?, '')
		ON CONFLICT (work_id) DO UPDATE SET
			priority = excluded.priority, status = 'queued', retry_count = 0, queued_at = excluded.queued_at,
			claimed_at = NULL, processed_at = NULL, last_error = ''
		WHERE refresh_queue.status = 'completed'`,
		uuid.NewString(), workID, priority, s.ts(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: enqueue %s", workID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Requeue(ctx context.Context, workID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_queue SET status = 'queued', retry_count = 0, last_error = '', queued_at = ?,
			claimed_at = NULL, processed_at = NULL
		WHERE work_id = ? AND status IN ('failed', 'completed')`,
		s.ts(), workID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: requeue %s", workID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ClaimQueueItems(ctx context.Context, limit int) ([]model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE refresh_queue SET status = 'processing', claimed_at = ?
		WHERE status = 'queued' AND id IN (
			SELECT id FROM refresh_queue WHERE status = 'queued'
			ORDER BY priority DESC, queued_at ASC LIMIT ?
		)
		RETURNING `+sqliteQueueColumns,
		s.ts(), defaultLimit(limit, 10),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim queue items")
	}
	defer rows.Close() //nolint:errcheck

	items, err := scanSQLiteQueueItems(rows)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim queue items")
	}
	sortClaimed(items)
	return items, nil
}

func (s *SQLiteStore) CompleteQueueItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_queue SET status = 'completed', processed_at = ?, last_error = ''
		WHERE id = ? AND status = 'processing'`,
		s.ts(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete queue item %s", id)
	}
	return checkRowsAffected(res, "queue item", id)
}

func (s *SQLiteStore) FailQueueItem(ctx context.Context, id, msg string, maxRetries int) (model.QueueStatus, int, error) {
	var status string
	var retries int
	err := s.db.QueryRowContext(ctx,
		`UPDATE refresh_queue SET
			retry_count = retry_count + 1,
			last_error = ?,
			processed_at = ?,
			status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'queued' END
		WHERE id = ? AND status = 'processing'
		RETURNING status, retry_count`,
		msg, s.ts(), maxRetries, id,
	).Scan(&status, &retries)
	if err == sql.ErrNoRows {
		return "", 0, eris.Errorf("queue item not found: %s", id)
	}
	if err != nil {
		return "", 0, eris.Wrapf(err, "sqlite: fail queue item %s", id)
	}
	return model.QueueStatus(status), retries, nil
}

func (s *SQLiteStore) GetQueueItem(ctx context.Context, workID string) (*model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteQueueColumns+` FROM refresh_queue WHERE work_id = ?`, workID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get queue item %s", workID)
	}
	defer rows.Close() //nolint:errcheck

	items, err := scanSQLiteQueueItems(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get queue item %s", workID)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (s *SQLiteStore) ListQueueItems(ctx context.Context, filter QueueFilter) ([]model.QueueItem, error) {
	query := `SELECT ` + sqliteQueueColumns + ` FROM refresh_queue`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY priority DESC, queued_at ASC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit, 50))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queue items")
	}
	defer rows.Close() //nolint:errcheck

	items, err := scanSQLiteQueueItems(rows)
	return items, eris.Wrap(err, "sqlite: list queue items")
}

func (s *SQLiteStore) CountQueue(ctx context.Context) (model.QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM refresh_queue GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count queue")
	}
	defer rows.Close() //nolint:errcheck

	counts := model.QueueCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue count")
		}
		counts[model.QueueStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count queue")
}

// --- Run logs ---

func (s *SQLiteStore) InsertRunLog(ctx context.Context, l *model.IngestionRunLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	titles, errs, err := encodeRunLog(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, source, trigger_type, max_new, checked, skipped, ingested, failed,
			titles, errors, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Source, string(l.Trigger), l.MaxNew, l.Checked, l.Skipped, l.Ingested, l.Failed,
		string(titles), string(errs), fmtTime(l.StartedAt), l.DurationMS,
	)
	return eris.Wrapf(err, "sqlite: insert run log %s", l.ID)
}

func (s *SQLiteStore) ListRunLogs(ctx context.Context, limit int) ([]model.IngestionRunLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, trigger_type, max_new, checked, skipped, ingested, failed, titles, errors, started_at, duration_ms
		FROM ingestion_runs ORDER BY started_at DESC LIMIT ?`,
		defaultLimit(limit, 20),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run logs")
	}
	defer rows.Close() //nolint:errcheck

	var logs []model.IngestionRunLog
	for rows.Next() {
		var l model.IngestionRunLog
		var trigger, titles, errs, startedAt string
		if err := rows.Scan(&l.ID, &l.Source, &trigger, &l.MaxNew, &l.Checked, &l.Skipped, &l.Ingested, &l.Failed,
			&titles, &errs, &startedAt, &l.DurationMS); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run log")
		}
		l.Trigger = model.RunTrigger(trigger)
		if err := decodeRunLog(&l, []byte(titles), []byte(errs)); err != nil {
			return nil, err
		}
		if l.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list run logs")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteWork(row scannable) (*model.Work, error) {
	var w model.Work
	var status, createdAt, updatedAt string
	var startedAt, refreshedAt sql.NullString
	err := row.Scan(&w.ID, &w.ExternalID, &w.Title, &w.OriginalTitle, &w.ReleaseDate, &w.ReleaseYear, &w.Popularity,
		&status, &startedAt, &refreshedAt, &w.LastError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.IngestionStatus = model.IngestionStatus(status)
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if w.IngestStartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if w.LastRefreshedAt, err = parseNullTime(refreshedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanSQLiteQueueItems(rows *sql.Rows) ([]model.QueueItem, error) {
	var items []model.QueueItem
	for rows.Next() {
		var it model.QueueItem
		var status, queuedAt string
		var claimedAt, processedAt sql.NullString
		if err := rows.Scan(&it.ID, &it.WorkID, &it.Priority, &status, &it.RetryCount,
			&queuedAt, &claimedAt, &processedAt, &it.LastError); err != nil {
			return nil, err
		}
		it.Status = model.QueueStatus(status)
		var err error
		if it.QueuedAt, err = parseTime(queuedAt); err != nil {
			return nil, err
		}
		if it.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
			return nil, err
		}
		if it.ProcessedAt, err = parseNullTime(processedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// sortClaimed restores claim order, which RETURNING does not guarantee.
func sortClaimed(items []model.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].QueuedAt.Before(items[j].QueuedAt)
	})
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
