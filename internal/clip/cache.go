package clip

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hbomb79/Vidra/pkg/logger"
)

var log = logger.Get("ClipCache")

// MinValidMediaSize is the integrity threshold for a cached primary
// media file; files at or below this size are treated as corrupt
// (truncated or empty downloads) and evicted at read time.
const MinValidMediaSize = 1024

type (
	// RowStore is the durable persistence the cache validates on top
	// of. The Postgres-backed Store satisfies it.
	RowStore interface {
		Get(clipID string) (*Record, error)
		Upsert(record *Record) error
		Delete(clipID string) error
		ListExpired(before time.Time) ([]*Record, error)
		AudioPathsInUse() (map[string]struct{}, error)
	}

	// Cache is the validating acquisition cache. A record is only ever
	// returned to a caller when it is within its TTL and its primary
	// media file exists on disk above the corruption threshold; any
	// violation evicts the record synchronously and reports a miss.
	Cache struct {
		rows RowStore
		ttl  time.Duration
	}
)

func NewCache(rows RowStore, ttl time.Duration) *Cache {
	return &Cache{rows: rows, ttl: ttl}
}

// Lookup returns a validated, non-expired, non-corrupt record for the
// clip ID provided, or nil on a miss. Expired or corrupt entries are
// evicted as a side effect and reported as a miss; the caller never
// observes the eviction.
func (cache *Cache) Lookup(clipID string) (*Record, error) {
	record, err := cache.rows.Get(clipID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	if time.Since(record.CreatedAt) >= cache.ttl {
		log.Emit(logger.REMOVE, "Cached record for clip %s has expired; evicting\n", clipID)
		cache.Evict(clipID)
		return nil, nil
	}

	info, err := os.Stat(record.MediaPath)
	if err != nil || info.Size() <= MinValidMediaSize {
		log.Emit(logger.WARNING, "Cached media file for clip %s is missing or corrupt; evicting\n", clipID)
		cache.Evict(clipID)
		return nil, nil
	}

	// The secondary audio file may have been reaped independently of
	// the record (shorter retention window); reflect its presence in
	// the metadata rather than treating its absence as corruption.
	if record.AudioPath != nil && fileExists(*record.AudioPath) {
		musicFileID := audioFileID(*record.AudioPath)
		record.Metadata.MusicFileID = &musicFileID
	} else {
		record.Metadata.MusicFileID = nil
	}

	return record, nil
}

// Store upserts a record for the clip ID provided with the creation
// timestamp set to now. Any prior record for the same ID is replaced
// outright.
func (cache *Cache) Store(clipID string, metadata Metadata, mediaPath string, audioPath *string) error {
	record := &Record{
		ID:        clipID,
		Metadata:  metadata,
		MediaPath: mediaPath,
		AudioPath: audioPath,
		CreatedAt: time.Now(),
	}

	if err := cache.rows.Upsert(record); err != nil {
		return fmt.Errorf("failed to store clip %s in cache: %w", clipID, err)
	}

	log.Emit(logger.NEW, "Stored clip %s in acquisition cache\n", clipID)
	return nil
}

// AttachAudio records the secondary audio file path against an existing
// record. The record may have been evicted since the enrichment task
// which produced the audio was spawned; that is reported as an error so
// the task surfaces as failed rather than silently resurrecting a row.
func (cache *Cache) AttachAudio(clipID string, audioPath string) error {
	record, err := cache.rows.Get(clipID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("cannot attach audio to clip %s: no cached record", clipID)
	}

	musicFileID := audioFileID(audioPath)
	record.AudioPath = &audioPath
	record.Metadata.MusicFileID = &musicFileID
	if err := cache.rows.Upsert(record); err != nil {
		return fmt.Errorf("failed to attach audio to clip %s: %w", clipID, err)
	}

	log.Emit(logger.INFO, "Attached audio file %s to clip %s\n", musicFileID, clipID)
	return nil
}

// Evict removes the record for the clip ID provided and attempts a
// best-effort deletion of its backing files. File deletion failure is
// logged, never propagated; a record or file that is already gone is
// benign.
func (cache *Cache) Evict(clipID string) error {
	record, err := cache.rows.Get(clipID)
	if err != nil {
		return err
	}

	if record != nil {
		removeFileQuietly(record.MediaPath)
		if record.AudioPath != nil {
			removeFileQuietly(*record.AudioPath)
		}
	}

	return cache.rows.Delete(clipID)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeFileQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Emit(logger.ERROR, "Failed to delete cached file %s: %s\n", path, err.Error())
	}
}

// audioFileID derives the caller-visible music file identifier from the
// audio file's path (the basename without its extension).
func audioFileID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
