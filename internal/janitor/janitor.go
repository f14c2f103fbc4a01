// Package janitor implements the periodic sweep which reaps expired
// clip records (and their backing files) and orphaned secondary audio
// files.
package janitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/hbomb79/Vidra/internal/clip"
	"github.com/hbomb79/Vidra/pkg/logger"
)

var log = logger.Get("Janitor")

type (
	Config struct {
		SweepInterval  time.Duration
		RecordTTL      time.Duration
		AudioRetention time.Duration
		AudioDirPath   string
	}

	// dataStore is the slice of the record store the janitor consumes.
	dataStore interface {
		ListExpired(before time.Time) ([]*clip.Record, error)
		Delete(clipID string) error
		AudioPathsInUse() (map[string]struct{}, error)
	}

	Service struct {
		config Config
		store  dataStore
	}
)

func New(config Config, store dataStore) *Service {
	return &Service{config: config, store: store}
}

// Run sweeps immediately and then on every tick of the configured
// interval until the context provided is cancelled.
func (service *Service) Run(ctx context.Context) error {
	service.Sweep()

	ticker := time.NewTicker(service.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			service.Sweep()
		case <-ctx.Done():
			log.Emit(logger.STOP, "Janitor stopping due to context cancellation\n")
			return nil
		}
	}
}

// Sweep performs one pass over the expired records and the orphaned
// audio files. Failure of any one entry is logged and skipped so a
// single stubborn file cannot stall the rest of the sweep.
func (service *Service) Sweep() {
	service.sweepExpiredRecords()
	service.sweepOrphanedAudio()
}

func (service *Service) sweepExpiredRecords() {
	expired, err := service.store.ListExpired(time.Now().Add(-service.config.RecordTTL))
	if err != nil {
		log.Emit(logger.ERROR, "Failed to list expired records: %s\n", err.Error())
		return
	}
	if len(expired) == 0 {
		return
	}

	log.Emit(logger.INFO, "Sweeping %d expired clip record(s)\n", len(expired))
	for _, record := range expired {
		removeQuietly(record.MediaPath)
		if record.AudioPath != nil {
			removeQuietly(*record.AudioPath)
		}

		if err := service.store.Delete(record.ID); err != nil {
			log.Emit(logger.ERROR, "Failed to delete expired record %s: %s\n", record.ID, err.Error())
			continue
		}

		log.Emit(logger.REMOVE, "Reaped expired clip %s\n", record.ID)
	}
}

// sweepOrphanedAudio removes audio files which no record references and
// which have outlived the retention window. The retention grace period
// covers audio whose owning record is still being written.
func (service *Service) sweepOrphanedAudio() {
	entries, err := os.ReadDir(service.config.AudioDirPath)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to read audio directory %s: %s\n", service.config.AudioDirPath, err.Error())
		return
	}

	inUse, err := service.store.AudioPathsInUse()
	if err != nil {
		log.Emit(logger.ERROR, "Failed to list referenced audio paths: %s\n", err.Error())
		return
	}

	threshold := time.Now().Add(-service.config.AudioRetention)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(service.config.AudioDirPath, entry.Name())
		if _, referenced := inUse[path]; referenced {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(threshold) {
			continue
		}

		removeQuietly(path)
		log.Emit(logger.REMOVE, "Reaped orphaned audio file %s\n", entry.Name())
	}
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Emit(logger.ERROR, "Failed to remove file %s: %s\n", path, err.Error())
	}
}
