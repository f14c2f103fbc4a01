package clip_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/Vidra/internal/clip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRowStore is an in-memory stand-in for the Postgres-backed row
// store, allowing the cache's validation semantics to be exercised
// without a database.
type memoryRowStore struct {
	mu   sync.Mutex
	rows map[string]clip.Record
}

func newMemoryRowStore() *memoryRowStore {
	return &memoryRowStore{rows: make(map[string]clip.Record)}
}

func (store *memoryRowStore) Get(clipID string) (*clip.Record, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if record, ok := store.rows[clipID]; ok {
		copied := record
		return &copied, nil
	}

	return nil, nil
}

func (store *memoryRowStore) Upsert(record *clip.Record) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.rows[record.ID] = *record
	return nil
}

func (store *memoryRowStore) Delete(clipID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.rows, clipID)
	return nil
}

func (store *memoryRowStore) ListExpired(before time.Time) ([]*clip.Record, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	expired := make([]*clip.Record, 0)
	for _, record := range store.rows {
		if record.CreatedAt.Before(before) {
			copied := record
			expired = append(expired, &copied)
		}
	}

	return expired, nil
}

func (store *memoryRowStore) AudioPathsInUse() (map[string]struct{}, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	inUse := make(map[string]struct{})
	for _, record := range store.rows {
		if record.AudioPath != nil {
			inUse[*record.AudioPath] = struct{}{}
		}
	}

	return inUse, nil
}

func (store *memoryRowStore) count() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	return len(store.rows)
}

// writeFileOfSize creates a file at the path provided filled with the
// requested number of bytes.
func writeFileOfSize(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func validMediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "media.mp4")
	writeFileOfSize(t, path, clip.MinValidMediaSize*2)
	return path
}

func testMetadata() clip.Metadata {
	return clip.Metadata{
		ClipID:      "7123456789012345678",
		Description: "a test clip",
		Author:      clip.Author{UniqueID: "user", Nickname: "User"},
		Statistics:  clip.Statistics{DiggCount: 10, PlayCount: 100},
	}
}

func Test_Cache_StoreThenLookupRoundTrips(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	mediaPath := validMediaFile(t)
	metadata := testMetadata()
	require.NoError(t, cache.Store(metadata.ClipID, metadata, mediaPath, nil))

	record, err := cache.Lookup(metadata.ClipID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, metadata.ClipID, record.ID)
	assert.Equal(t, mediaPath, record.MediaPath)
	assert.Equal(t, metadata.Description, record.Metadata.Description)
	assert.Equal(t, metadata.Statistics, record.Metadata.Statistics)
	assert.Nil(t, record.AudioPath)
}

func Test_Cache_LookupMissesUnknownClip(t *testing.T) {
	t.Parallel()
	cache := clip.NewCache(newMemoryRowStore(), time.Hour)

	record, err := cache.Lookup("7000000000000000000")
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func Test_Cache_CorruptMediaEvictsWithoutResurrection(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	mediaPath := filepath.Join(t.TempDir(), "media.mp4")
	writeFileOfSize(t, mediaPath, clip.MinValidMediaSize/2)

	metadata := testMetadata()
	require.NoError(t, cache.Store(metadata.ClipID, metadata, mediaPath, nil))

	record, err := cache.Lookup(metadata.ClipID)
	assert.NoError(t, err)
	assert.Nil(t, record, "corrupt media must be reported as a miss")
	assert.Zero(t, rows.count(), "corrupt record must be evicted")
	assert.NoFileExists(t, mediaPath)

	// A second lookup for the same ID must also miss.
	record, err = cache.Lookup(metadata.ClipID)
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func Test_Cache_MissingMediaFileEvicts(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	metadata := testMetadata()
	require.NoError(t, cache.Store(metadata.ClipID, metadata, filepath.Join(t.TempDir(), "never-written.mp4"), nil))

	record, err := cache.Lookup(metadata.ClipID)
	assert.NoError(t, err)
	assert.Nil(t, record)
	assert.Zero(t, rows.count())
}

func Test_Cache_ExpiredRecordEvictedDespiteIntactFile(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	mediaPath := validMediaFile(t)
	metadata := testMetadata()
	require.NoError(t, rows.Upsert(&clip.Record{
		ID:        metadata.ClipID,
		Metadata:  metadata,
		MediaPath: mediaPath,
		CreatedAt: time.Now().Add(-time.Hour * 2),
	}))

	record, err := cache.Lookup(metadata.ClipID)
	assert.NoError(t, err)
	assert.Nil(t, record, "expired record must be reported as a miss")
	assert.Zero(t, rows.count())
}

func Test_Cache_MissingAudioSurfacesAsNilMusicFileID(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	mediaPath := validMediaFile(t)
	goneAudio := filepath.Join(t.TempDir(), "deadbeef.mp3")

	metadata := testMetadata()
	musicID := "deadbeef"
	metadata.MusicFileID = &musicID
	require.NoError(t, cache.Store(metadata.ClipID, metadata, mediaPath, &goneAudio))

	record, err := cache.Lookup(metadata.ClipID)
	require.NoError(t, err)
	require.NotNil(t, record, "missing audio is not corruption; record must still be served")
	assert.Nil(t, record.Metadata.MusicFileID)
}

func Test_Cache_PresentAudioSurfacesMusicFileID(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	mediaPath := validMediaFile(t)
	audioPath := filepath.Join(t.TempDir(), "cafef00d.mp3")
	writeFileOfSize(t, audioPath, 64)

	metadata := testMetadata()
	require.NoError(t, cache.Store(metadata.ClipID, metadata, mediaPath, &audioPath))

	record, err := cache.Lookup(metadata.ClipID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotNil(t, record.Metadata.MusicFileID)
	assert.Equal(t, "cafef00d", *record.Metadata.MusicFileID)
}

func Test_Cache_StoreOverwritesPriorRecord(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	mediaPath := validMediaFile(t)
	metadata := testMetadata()
	require.NoError(t, cache.Store(metadata.ClipID, metadata, mediaPath, nil))

	updated := metadata
	updated.Description = "replacement"
	require.NoError(t, cache.Store(metadata.ClipID, updated, mediaPath, nil))

	record, err := cache.Lookup(metadata.ClipID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "replacement", record.Metadata.Description)
	assert.Equal(t, 1, rows.count())
}

func Test_Cache_AttachAudioUpdatesRecord(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	mediaPath := validMediaFile(t)
	metadata := testMetadata()
	require.NoError(t, cache.Store(metadata.ClipID, metadata, mediaPath, nil))

	audioPath := filepath.Join(t.TempDir(), "feedface.mp3")
	writeFileOfSize(t, audioPath, 64)
	require.NoError(t, cache.AttachAudio(metadata.ClipID, audioPath))

	record, err := cache.Lookup(metadata.ClipID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotNil(t, record.AudioPath)
	assert.Equal(t, audioPath, *record.AudioPath)
	require.NotNil(t, record.Metadata.MusicFileID)
	assert.Equal(t, "feedface", *record.Metadata.MusicFileID)
}

func Test_Cache_AttachAudioToEvictedRecordErrors(t *testing.T) {
	t.Parallel()
	cache := clip.NewCache(newMemoryRowStore(), time.Hour)

	err := cache.AttachAudio("7123456789012345678", "/tmp/never.mp3")
	assert.Error(t, err)
}

func Test_Cache_EvictRemovesRowAndFiles(t *testing.T) {
	t.Parallel()
	rows := newMemoryRowStore()
	cache := clip.NewCache(rows, time.Hour)

	mediaPath := validMediaFile(t)
	audioPath := filepath.Join(t.TempDir(), "track.mp3")
	writeFileOfSize(t, audioPath, 64)

	metadata := testMetadata()
	require.NoError(t, cache.Store(metadata.ClipID, metadata, mediaPath, &audioPath))

	require.NoError(t, cache.Evict(metadata.ClipID))
	assert.Zero(t, rows.count())
	assert.NoFileExists(t, mediaPath)
	assert.NoFileExists(t, audioPath)

	// Evicting an already-gone record is benign.
	assert.NoError(t, cache.Evict(metadata.ClipID))
}
