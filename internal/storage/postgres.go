// internal/storage/postgres.go
// Package storage provides the PostgreSQL implementation of the Store interface.
// This implementation is the durable backend for catch records and image blobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lastSyncKey is the sync_meta key holding the last completed sync time.
const lastSyncKey = "last_sync_time"

// postgres provides persistent storage for catch records, image blobs,
// and the last-sync timestamp.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - dsn: Database connection string in PostgreSQL format
// Returns:
//   - Store: Implementation of the storage interface
//   - error: Any error that occurred during initialization
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Connection pool settings; the vault is a single-device service so
	// the pool stays small.
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema initializes the database schema.
// It creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Catch records logged on this device
		CREATE TABLE IF NOT EXISTS catches (
		    id BIGSERIAL PRIMARY KEY,                -- Locally-assigned sequential id
		    species TEXT NOT NULL,                   -- Free-text species label
		    confidence DOUBLE PRECISION NOT NULL,    -- Classifier confidence [0,100]
		    health_score DOUBLE PRECISION NOT NULL,  -- Classifier health score [0,100]
		    count INTEGER NOT NULL,                  -- Fish count in the photo
		    estimated_weight DOUBLE PRECISION NOT NULL, -- Kilograms
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL, -- Creation time, immutable
		    latitude DOUBLE PRECISION NOT NULL,      -- (0,0) is the unknown-location sentinel
		    longitude DOUBLE PRECISION NOT NULL,
		    image_key TEXT NOT NULL DEFAULT '',      -- Image-store key, empty if no photo
		    is_synced BOOLEAN NOT NULL DEFAULT FALSE -- Monotone false -> true
		);

		-- Indexes for the newest-first listing and the pending-item scan
		CREATE INDEX IF NOT EXISTS idx_catches_created_at ON catches(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_catches_species ON catches(species);
		CREATE INDEX IF NOT EXISTS idx_catches_is_synced ON catches(is_synced) WHERE NOT is_synced;

		-- Image blobs, content-addressed by caller-supplied key
		CREATE TABLE IF NOT EXISTS images (
		    key TEXT PRIMARY KEY,                    -- Opaque image-store key
		    data BYTEA NOT NULL,                     -- Binary photo payload
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- Lightweight key-value storage for sync metadata
		CREATE TABLE IF NOT EXISTS sync_meta (
		    key TEXT PRIMARY KEY,
		    value TEXT NOT NULL
		);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (p *postgres) Close() {
	p.db.Close()
}

// AddCatch inserts a new catch record and returns the database-assigned id.
func (p *postgres) AddCatch(ctx context.Context, rec model.CatchRecord) (int64, error) {
	query := `INSERT INTO catches (species, confidence, health_score, count, estimated_weight,
	                               created_at, latitude, longitude, image_key, is_synced)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          RETURNING id`

	var id int64
	err := p.db.QueryRow(ctx, query,
		rec.Species,
		rec.Confidence,
		rec.HealthScore,
		rec.Count,
		rec.EstimatedWeight,
		rec.Timestamp,
		rec.Latitude,
		rec.Longitude,
		rec.ImageRef,
		rec.IsSynced).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add catch: %w", err)
	}
	return id, nil
}

// GetCatch returns a single record by id.
func (p *postgres) GetCatch(ctx context.Context, id int64) (model.CatchRecord, error) {
	var rec model.CatchRecord
	err := p.db.QueryRow(ctx, `SELECT `+catchColumns+` FROM catches WHERE id = $1`, id).Scan(
		&rec.ID,
		&rec.Species,
		&rec.Confidence,
		&rec.HealthScore,
		&rec.Count,
		&rec.EstimatedWeight,
		&rec.Timestamp,
		&rec.Latitude,
		&rec.Longitude,
		&rec.ImageRef,
		&rec.IsSynced,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CatchRecord{}, ErrNotFound
		}
		return model.CatchRecord{}, fmt.Errorf("failed to get catch: %w", err)
	}
	return rec, nil
}

// scanCatches reads catch rows into records.
func scanCatches(rows pgx.Rows) ([]model.CatchRecord, error) {
	defer rows.Close()

	out := make([]model.CatchRecord, 0)
	for rows.Next() {
		var rec model.CatchRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Species,
			&rec.Confidence,
			&rec.HealthScore,
			&rec.Count,
			&rec.EstimatedWeight,
			&rec.Timestamp,
			&rec.Latitude,
			&rec.Longitude,
			&rec.ImageRef,
			&rec.IsSynced,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catch: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catches: %w", err)
	}
	return out, nil
}

const catchColumns = `id, species, confidence, health_score, count, estimated_weight,
                      created_at, latitude, longitude, image_key, is_synced`

// GetAllCatches returns every record ordered newest-first by creation time.
func (p *postgres) GetAllCatches(ctx context.Context) ([]model.CatchRecord, error) {
	rows, err := p.db.Query(ctx, `SELECT `+catchColumns+` FROM catches ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catches: %w", err)
	}
	return scanCatches(rows)
}

// GetCatchesBySpecies returns records with an exact species match, newest-first.
func (p *postgres) GetCatchesBySpecies(ctx context.Context, species string) ([]model.CatchRecord, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+catchColumns+` FROM catches WHERE species = $1 ORDER BY created_at DESC, id DESC`, species)
	if err != nil {
		return nil, fmt.Errorf("failed to list catches by species: %w", err)
	}
	return scanCatches(rows)
}

// GetUnsyncedCatches returns records that have not been pushed remotely.
func (p *postgres) GetUnsyncedCatches(ctx context.Context) ([]model.CatchRecord, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+catchColumns+` FROM catches WHERE NOT is_synced ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced catches: %w", err)
	}
	return scanCatches(rows)
}

// MarkAsSynced sets is_synced for the matching record.
// Idempotent; unknown ids are a no-op, matching the memory backend.
func (p *postgres) MarkAsSynced(ctx context.Context, id int64) error {
	_, err := p.db.Exec(ctx, `UPDATE catches SET is_synced = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark catch synced: %w", err)
	}
	return nil
}

// DeleteCatch removes the record and cascade-deletes its image blob in a
// single transaction, so a crash cannot leave an orphaned blob behind.
func (p *postgres) DeleteCatch(ctx context.Context, id int64) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	var imageKey string
	err = tx.QueryRow(ctx, `DELETE FROM catches WHERE id = $1 RETURNING image_key`, id).Scan(&imageKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to delete catch: %w", err)
	}

	if imageKey != "" {
		if _, err := tx.Exec(ctx, `DELETE FROM images WHERE key = $1`, imageKey); err != nil {
			return fmt.Errorf("failed to delete catch image: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// StoreImage upserts an image blob under the given key.
func (p *postgres) StoreImage(ctx context.Context, key string, data []byte) error {
	query := `INSERT INTO images (key, data, created_at) VALUES ($1, $2, $3)
	          ON CONFLICT (key) DO UPDATE SET data = $2`
	_, err := p.db.Exec(ctx, query, key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}
	return nil
}

// GetImage retrieves an image blob; unknown keys yield (nil, nil), not an error.
func (p *postgres) GetImage(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := p.db.QueryRow(ctx, `SELECT data FROM images WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return data, nil
}

// DeleteImage removes an image blob; unknown keys are a no-op.
func (p *postgres) DeleteImage(ctx context.Context, key string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM images WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// Stats recomputes aggregate counts in a single query.
func (p *postgres) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	query := `SELECT COUNT(*),
	                 COUNT(DISTINCT species),
	                 COUNT(*) FILTER (WHERE NOT is_synced)
	          FROM catches`
	err := p.db.QueryRow(ctx, query).Scan(&stats.TotalCatches, &stats.UniqueSpecies, &stats.UnsyncedCount)
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

// LoadLastSyncTime reads the persisted last-sync timestamp, nil if never synced.
func (p *postgres) LoadLastSyncTime(ctx context.Context) (*time.Time, error) {
	var value string
	err := p.db.QueryRow(ctx, `SELECT value FROM sync_meta WHERE key = $1`, lastSyncKey).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load last sync time: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("invalid last sync time %q: %w", value, err)
	}
	return &t, nil
}

// SaveLastSyncTime upserts the last-sync timestamp.
// The zero time clears the stored value.
func (p *postgres) SaveLastSyncTime(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		if _, err := p.db.Exec(ctx, `DELETE FROM sync_meta WHERE key = $1`, lastSyncKey); err != nil {
			return fmt.Errorf("failed to clear last sync time: %w", err)
		}
		return nil
	}

	query := `INSERT INTO sync_meta (key, value) VALUES ($1, $2)
	          ON CONFLICT (key) DO UPDATE SET value = $2`
	_, err := p.db.Exec(ctx, query, lastSyncKey, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save last sync time: %w", err)
	}
	return nil
}
