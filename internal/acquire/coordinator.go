// Package acquire implements the acquisition coordinator: the single
// entry point through which a clip is looked up in the cache, fetched
// from upstream on a miss, persisted, and handed to the enrichment
// pipeline.
package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Vidra/internal/clip"
	"github.com/hbomb79/Vidra/internal/enrich"
	"github.com/hbomb79/Vidra/internal/tiktok"
	"github.com/hbomb79/Vidra/pkg/logger"
)

var log = logger.Get("Acquire")

type (
	Config struct {
		MediaDirPath      string
		AlbumCleanupDelay time.Duration
	}

	// UpstreamSession is the slice of the upstream client the
	// coordinator drives.
	UpstreamSession interface {
		FetchItemDetail(ctx context.Context, clipID string) (*tiktok.ItemDetail, error)
		DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
	}

	// SessionBroker hands out the current upstream session and replaces
	// it when a caller reports it failed.
	SessionBroker interface {
		Current() (UpstreamSession, error)
		Recover(ctx context.Context, failed UpstreamSession) (UpstreamSession, error)
	}

	RecordCache interface {
		Lookup(clipID string) (*clip.Record, error)
		Store(clipID string, metadata clip.Metadata, mediaPath string, audioPath *string) error
		AttachAudio(clipID string, audioPath string) error
	}

	MediaProber interface {
		ProbeMediaDetails(path string) (*clip.MediaDetails, error)
	}

	AudioRecognizer interface {
		Recognize(ctx context.Context, mediaPath string) (*clip.Fingerprint, error)
	}

	AudioRetriever interface {
		Retrieve(ctx context.Context, query string) (string, string, error)
	}

	TaskSpawner interface {
		Spawn(job enrich.Job) uuid.UUID
	}

	// Artifact is the result of one acquisition. A cache hit carries the
	// validated record only; a fresh acquisition additionally carries
	// the downloaded media bytes, and an album acquisition carries the
	// image paths instead.
	Artifact struct {
		Record           *clip.Record
		Media            []byte
		FromCache        bool
		Album            *AlbumArtifact
		EnrichmentTaskID *uuid.UUID
	}

	AlbumArtifact struct {
		Dir        string
		ImagePaths []string
	}

	Coordinator struct {
		config     Config
		locks      *keyedMutex
		sessions   SessionBroker
		cache      RecordCache
		prober     MediaProber
		recognizer AudioRecognizer
		retriever  AudioRetriever
		tasks      TaskSpawner

		enrichMu  sync.Mutex
		enriching map[string]*inflightEnrichment
	}

	// inflightEnrichment marks a clip whose secondary-audio retrieval is
	// currently running; repeat lookups share its task rather than
	// spawning another retrieval for the same clip.
	inflightEnrichment struct {
		taskID uuid.UUID
	}
)

func NewCoordinator(
	config Config,
	sessions SessionBroker,
	cache RecordCache,
	prober MediaProber,
	recognizer AudioRecognizer,
	retriever AudioRetriever,
	tasks TaskSpawner,
) *Coordinator {
	return &Coordinator{
		config:     config,
		locks:      newKeyedMutex(),
		sessions:   sessions,
		cache:      cache,
		prober:     prober,
		recognizer: recognizer,
		retriever:  retriever,
		tasks:      tasks,
		enriching:  make(map[string]*inflightEnrichment),
	}
}

// Get acquires the clip with the ID provided, from the cache when a
// valid record exists and from upstream otherwise. Concurrent calls for
// the same clip collapse to a single upstream fetch; the latecomers
// block until the first caller has populated the cache and are then
// served from it.
func (coordinator *Coordinator) Get(ctx context.Context, clipID string) (*Artifact, error) {
	unlock := coordinator.locks.Lock(clipID)
	defer unlock()

	record, err := coordinator.cache.Lookup(clipID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		log.Emit(logger.DEBUG, "Clip %s served from cache\n", clipID)
		artifact := &Artifact{Record: record, FromCache: true}
		if record.Metadata.NeedsEnrichment() {
			taskID := coordinator.spawnEnrichment(clipID, *record.Metadata.Fingerprint)
			artifact.EnrichmentTaskID = &taskID
		}

		return artifact, nil
	}

	log.Emit(logger.INFO, "Clip %s not cached; acquiring from upstream\n", clipID)

	var detail *tiktok.ItemDetail
	var media []byte
	var album *AlbumArtifact
	err = coordinator.withSession(ctx, func(handle UpstreamSession) error {
		fetched, err := handle.FetchItemDetail(ctx, clipID)
		if err != nil {
			return err
		}
		detail = fetched

		if fetched.ImagePost != nil {
			fetchedAlbum, err := coordinator.downloadAlbum(ctx, handle, clipID, fetched.ImagePost)
			if err != nil {
				return err
			}

			album = fetchedAlbum
			return nil
		}

		downloaded, err := handle.DownloadMedia(ctx, fetched.Video.PlayAddr)
		if err != nil {
			return err
		}

		media = downloaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	metadata := clip.MetadataFromItemDetail(detail)

	// Albums bypass the durable cache entirely; their images live in a
	// temporary directory which is reaped after a fixed grace period.
	if album != nil {
		coordinator.scheduleAlbumCleanup(clipID, album.Dir)
		return &Artifact{
			Record: &clip.Record{ID: clipID, Metadata: metadata, CreatedAt: time.Now()},
			Album:  album,
		}, nil
	}

	mediaPath := filepath.Join(coordinator.config.MediaDirPath, clipID+".mp4")
	if err := os.WriteFile(mediaPath, media, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write media file for clip %s: %w", clipID, err)
	}

	// Probe and recognition failures degrade the metadata, never the
	// acquisition itself.
	if details, err := coordinator.prober.ProbeMediaDetails(mediaPath); err != nil {
		log.Emit(logger.WARNING, "Media probe for clip %s failed: %s\n", clipID, err.Error())
	} else {
		metadata.MediaDetails = details
	}

	if fingerprint, err := coordinator.recognizer.Recognize(ctx, mediaPath); err != nil {
		log.Emit(logger.WARNING, "Audio recognition for clip %s failed: %s\n", clipID, err.Error())
	} else if fingerprint != nil {
		log.Emit(logger.INFO, "Clip %s audio recognized as %q\n", clipID, fingerprint.Query())
		metadata.Fingerprint = fingerprint
	}

	if err := coordinator.cache.Store(clipID, metadata, mediaPath, nil); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		Record: &clip.Record{ID: clipID, Metadata: metadata, MediaPath: mediaPath, CreatedAt: time.Now()},
		Media:  media,
	}
	if metadata.Fingerprint != nil {
		taskID := coordinator.spawnEnrichment(clipID, *metadata.Fingerprint)
		artifact.EnrichmentTaskID = &taskID
	}

	return artifact, nil
}

// withSession runs the operation provided against the current session,
// recovering the session and retrying the operation exactly once if the
// failure is classified session-fatal. A failure of the retry, or any
// non-fatal failure, is surfaced as-is.
func (coordinator *Coordinator) withSession(ctx context.Context, operation func(UpstreamSession) error) error {
	handle, err := coordinator.sessions.Current()
	if err != nil {
		return err
	}

	err = operation(handle)
	if err == nil || !tiktok.IsSessionFatal(err) {
		return err
	}

	log.Emit(logger.WARNING, "Upstream request failed with session-fatal error (%s); recovering session and retrying\n", err.Error())
	replacement, recoverErr := coordinator.sessions.Recover(ctx, handle)
	if recoverErr != nil {
		return fmt.Errorf("session recovery failed: %w", recoverErr)
	}

	return operation(replacement)
}

func (coordinator *Coordinator) downloadAlbum(ctx context.Context, handle UpstreamSession, clipID string, imagePost *tiktok.ImagePost) (*AlbumArtifact, error) {
	dir, err := os.MkdirTemp(coordinator.config.MediaDirPath, clipID+"-album-")
	if err != nil {
		return nil, fmt.Errorf("failed to create album directory for clip %s: %w", clipID, err)
	}

	paths := make([]string, 0, len(imagePost.Images))
	for k, image := range imagePost.Images {
		if len(image.ImageURL.URLList) == 0 {
			continue
		}

		downloaded, err := handle.DownloadMedia(ctx, image.ImageURL.URLList[0])
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}

		path := filepath.Join(dir, fmt.Sprintf("image_%02d.jpg", k))
		if err := os.WriteFile(path, downloaded, 0o644); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to write album image for clip %s: %w", clipID, err)
		}

		paths = append(paths, path)
	}

	if len(paths) == 0 {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("album for clip %s contained no downloadable images", clipID)
	}

	return &AlbumArtifact{Dir: dir, ImagePaths: paths}, nil
}

func (coordinator *Coordinator) scheduleAlbumCleanup(clipID string, dir string) {
	time.AfterFunc(coordinator.config.AlbumCleanupDelay, func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Emit(logger.ERROR, "Failed to clean up album directory %s: %s\n", dir, err.Error())
			return
		}

		log.Emit(logger.REMOVE, "Cleaned up album directory for clip %s\n", clipID)
	})
}

// spawnEnrichment starts the detached secondary-audio retrieval for the
// fingerprint provided. The task attaches the retrieved audio to the
// cached record on success. At most one retrieval per clip runs at a
// time; a lookup which finds one already in flight is handed the
// existing task's ID.
func (coordinator *Coordinator) spawnEnrichment(clipID string, fingerprint clip.Fingerprint) uuid.UUID {
	coordinator.enrichMu.Lock()
	if inflight, ok := coordinator.enriching[clipID]; ok {
		taskID := inflight.taskID
		coordinator.enrichMu.Unlock()

		log.Emit(logger.DEBUG, "Enrichment for clip %s already in flight (task %s)\n", clipID, taskID)
		return taskID
	}

	inflight := &inflightEnrichment{}
	coordinator.enriching[clipID] = inflight
	coordinator.enrichMu.Unlock()

	taskID := coordinator.tasks.Spawn(func(ctx context.Context) (string, error) {
		defer coordinator.settleEnrichment(clipID, inflight)

		musicFileID, audioPath, err := coordinator.retriever.Retrieve(ctx, fingerprint.Query())
		if err != nil {
			return "", err
		}

		if err := coordinator.cache.AttachAudio(clipID, audioPath); err != nil {
			return "", err
		}

		return musicFileID, nil
	})

	coordinator.enrichMu.Lock()
	inflight.taskID = taskID
	coordinator.enrichMu.Unlock()

	return taskID
}

// settleEnrichment clears the in-flight marker for the clip once its
// retrieval has finished. A marker belonging to a later retrieval is
// left in place.
func (coordinator *Coordinator) settleEnrichment(clipID string, inflight *inflightEnrichment) {
	coordinator.enrichMu.Lock()
	defer coordinator.enrichMu.Unlock()

	if coordinator.enriching[clipID] == inflight {
		delete(coordinator.enriching, clipID)
	}
}
