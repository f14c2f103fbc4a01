// Package internal wires the Vidra services together: the database,
// the upstream session, the acquisition coordinator, the enrichment
// registry, the janitor and the REST gateway.
package internal

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hbomb79/Vidra/internal/acquire"
	"github.com/hbomb79/Vidra/internal/api"
	"github.com/hbomb79/Vidra/internal/clip"
	"github.com/hbomb79/Vidra/internal/database"
	"github.com/hbomb79/Vidra/internal/enrich"
	"github.com/hbomb79/Vidra/internal/ffmpeg"
	"github.com/hbomb79/Vidra/internal/janitor"
	"github.com/hbomb79/Vidra/internal/session"
	"github.com/hbomb79/Vidra/internal/tiktok"
	"github.com/hbomb79/Vidra/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// Vidra is the top-level object for the server, responsible for
	// initialising the stores, services and gateway, and for their
	// lifecycle.
	vidraImpl struct {
		config VidraConfig

		sessionManager *session.Manager
		taskRegistry   *enrich.Registry
		restGateway    RunnableService
		janitorService RunnableService
	}
)

func New(config VidraConfig) *vidraImpl {
	return &vidraImpl{config: config}
}

// Run brings up all of Vidra: storage directories, the database
// connection, the upstream session, and the async services. It does not
// return until the context provided is cancelled or a service crashes.
func (vidra *vidraImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	mediaDir := vidra.config.getMediaDir()
	audioDir := vidra.config.getAudioDir()
	for _, dir := range []string{mediaDir, audioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(vidra.config.Database); err != nil {
		return err
	}

	store := clip.NewStore(db.GetSqlxDb())
	cache := clip.NewCache(store, vidra.config.Cache.RecordTTL)

	log.Emit(logger.NEW, "Establishing upstream session...\n")
	vidra.sessionManager = session.NewManager(func(ctx context.Context) (*tiktok.Session, error) {
		return tiktok.NewSession(ctx, tiktok.Config{MsToken: vidra.config.Upstream.MsToken})
	})
	if err := vidra.sessionManager.Start(ctx); err != nil {
		return err
	}
	defer vidra.sessionManager.Close()

	prober := ffmpeg.NewProber(vidra.config.Format)
	vidra.taskRegistry = enrich.NewRegistry()
	recognizer := enrich.NewRecognizer(enrich.RecognizerConfig{
		BaseURL: vidra.config.Recognizer.BaseURL,
		ApiKey:  vidra.config.Recognizer.ApiKey,
	})
	retriever := enrich.NewRetriever(enrich.RetrieverConfig{
		BinaryPath: vidra.config.Retriever.YtDlpBinaryPath,
		AudioDir:   audioDir,
	})

	coordinator := acquire.NewCoordinator(
		acquire.Config{MediaDirPath: mediaDir, AlbumCleanupDelay: vidra.config.Cache.AlbumCleanupDelay},
		acquire.NewSessionBroker(vidra.sessionManager),
		cache, prober, recognizer, retriever, vidra.taskRegistry,
	)

	vidra.restGateway = api.NewRestGateway(&vidra.config.Rest, coordinator, cache, prober, vidra.taskRegistry, audioDir)
	vidra.janitorService = janitor.New(janitor.Config{
		SweepInterval:  vidra.config.Cache.SweepInterval,
		RecordTTL:      vidra.config.Cache.RecordTTL,
		AudioRetention: vidra.config.Cache.AudioRetention,
		AudioDirPath:   audioDir,
	}, store)

	wg := &sync.WaitGroup{}
	vidra.spawnAsyncService(ctx, wg, vidra.restGateway, "rest-gateway", crashHandler)
	vidra.spawnAsyncService(ctx, wg, vidra.janitorService, "janitor", crashHandler)
	log.Emit(logger.SUCCESS, "Vidra services spawned!\n")

	wg.Wait()

	log.Emit(logger.STOP, "Waiting for in-flight enrichment tasks...\n")
	vidra.taskRegistry.Close()
	return nil
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the Vidra service waitgroup is updated
// correctly.
func (vidra *vidraImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
