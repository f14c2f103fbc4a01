package clip

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/hbomb79/Vidra/internal/database"
)

type (
	// rowModel is the DB projection of a Record. The metadata document
	// is held in a JsonColumn container; we use a separate struct as
	// part of the public API of this store to hide that detail.
	rowModel struct {
		ID        string                        `db:"id"`
		Metadata  database.JsonColumn[Metadata] `db:"metadata"`
		MediaPath string                        `db:"media_path"`
		AudioPath *string                       `db:"audio_path"`
		CreatedAt time.Time                     `db:"created_at"`
	}

	// Store is the durable clip record store backed by Postgres.
	Store struct {
		db database.Queryable
	}
)

func NewStore(db database.Queryable) *Store {
	return &Store{db: db}
}

// Get returns the record for the clip ID provided, or nil when no such
// row exists. No validation of the backing files is performed here;
// that is the cache's responsibility.
func (store *Store) Get(clipID string) (*Record, error) {
	query, args, err := selectClipBuilder().Where("clips.id=?", clipID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select clip query: %w", err)
	}

	var row rowModel
	if err := store.db.Get(&row, store.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to select clip %s: %w", clipID, err)
	}

	return rowToRecord(&row), nil
}

// Upsert writes the record provided, replacing any existing row for the
// same clip ID outright (last-write-wins, no merging).
func (store *Store) Upsert(record *Record) error {
	metadata := record.Metadata
	_, err := store.db.NamedExec(`
		INSERT INTO clips(id, metadata, media_path, audio_path, created_at)
		VALUES (:id, :metadata, :media_path, :audio_path, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			metadata=excluded.metadata,
			media_path=excluded.media_path,
			audio_path=excluded.audio_path,
			created_at=excluded.created_at
	`, rowModel{
		ID:        record.ID,
		Metadata:  database.NewJsonColumn(&metadata),
		MediaPath: record.MediaPath,
		AudioPath: record.AudioPath,
		CreatedAt: record.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert clip %s: %w", record.ID, err)
	}

	return nil
}

// Delete removes the row for the clip ID provided. Deleting a row that
// is already gone is not an error; the janitor and lookup-side eviction
// can race on the same record.
func (store *Store) Delete(clipID string) error {
	if _, err := store.db.Exec(`DELETE FROM clips WHERE id = $1`, clipID); err != nil {
		return fmt.Errorf("failed to delete clip %s: %w", clipID, err)
	}

	return nil
}

// ListExpired returns every record whose creation time falls before the
// threshold provided.
func (store *Store) ListExpired(before time.Time) ([]*Record, error) {
	query, args, err := selectClipBuilder().Where("clips.created_at < ?", before).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct expired clips query: %w", err)
	}

	var rows []rowModel
	if err := store.db.Select(&rows, store.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to select expired clips: %w", err)
	}

	records := make([]*Record, len(rows))
	for k := range rows {
		records[k] = rowToRecord(&rows[k])
	}

	return records, nil
}

// AudioPathsInUse returns the set of secondary audio file paths that
// are still referenced by a record. The janitor uses this to avoid
// deleting audio that a live record owns.
func (store *Store) AudioPathsInUse() (map[string]struct{}, error) {
	var paths []string
	if err := store.db.Select(&paths, `SELECT audio_path FROM clips WHERE audio_path IS NOT NULL`); err != nil {
		return nil, fmt.Errorf("failed to select referenced audio paths: %w", err)
	}

	inUse := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		inUse[path] = struct{}{}
	}

	return inUse, nil
}

func selectClipBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("clips.id", "clips.metadata", "clips.media_path", "clips.audio_path", "clips.created_at").
		From("clips")
}

func rowToRecord(row *rowModel) *Record {
	record := &Record{
		ID:        row.ID,
		MediaPath: row.MediaPath,
		AudioPath: row.AudioPath,
		CreatedAt: row.CreatedAt,
	}
	if metadata := row.Metadata.Get(); metadata != nil {
		record.Metadata = *metadata
	}

	return record
}
