package enrich

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/google/uuid"
	"github.com/hbomb79/Vidra/pkg/logger"
)

const searchResultLimit = 5

type (
	RetrieverConfig struct {
		BinaryPath string
		AudioDir   string
	}

	// Retriever recovers a recognized track as a standalone audio file
	// by searching an external catalogue for it and downloading the
	// closest match.
	Retriever struct {
		config RetrieverConfig
	}

	searchCandidate struct {
		id    string
		title string
	}
)

func NewRetriever(config RetrieverConfig) *Retriever {
	return &Retriever{config: config}
}

// Retrieve searches for the query provided, downloads the best-matching
// candidate to the audio directory under a freshly minted UUID, and
// returns that UUID alongside the absolute path of the file.
func (retriever *Retriever) Retrieve(ctx context.Context, query string) (string, string, error) {
	candidates, err := retriever.search(ctx, query)
	if err != nil {
		return "", "", err
	}
	if len(candidates) == 0 {
		return "", "", fmt.Errorf("no candidates found for query %q", query)
	}

	best := rankCandidates(candidates, query)
	musicFileID := uuid.New().String()
	audioPath := filepath.Join(retriever.config.AudioDir, musicFileID+".mp3")
	if err := retriever.download(ctx, best.id, audioPath); err != nil {
		return "", "", err
	}

	return musicFileID, audioPath, nil
}

// search lists candidate tracks for the query without downloading
// anything. Each output line is an ID and a title, tab separated.
func (retriever *Retriever) search(ctx context.Context, query string) ([]searchCandidate, error) {
	cmd := exec.CommandContext(ctx, retriever.config.BinaryPath,
		fmt.Sprintf("ytsearch%d:%s", searchResultLimit, query),
		"--skip-download",
		"--no-playlist",
		"--print", "%(id)s\t%(title)s",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("candidate search for %q failed: %w (%s)", query, err, strings.TrimSpace(stderr.String()))
	}

	candidates := make([]searchCandidate, 0, searchResultLimit)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		id, title, found := strings.Cut(scanner.Text(), "\t")
		if !found || id == "" {
			continue
		}

		candidates = append(candidates, searchCandidate{id: id, title: title})
	}

	return candidates, nil
}

func (retriever *Retriever) download(ctx context.Context, candidateID string, audioPath string) error {
	cmd := exec.CommandContext(ctx, retriever.config.BinaryPath,
		candidateID,
		"--no-playlist",
		"--extract-audio",
		"--audio-format", "mp3",
		"--output", strings.TrimSuffix(audioPath, ".mp3")+".%(ext)s",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio download of candidate %s failed: %w (%s)", candidateID, err, strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(audioPath); err != nil {
		return fmt.Errorf("audio download of candidate %s produced no file at %s", candidateID, audioPath)
	}

	return nil
}

// rankCandidates orders the candidates by title similarity to the query
// and returns the closest. Similarity ranking compensates for the
// catalogue returning covers, remixes and lyric videos alongside the
// original track.
func rankCandidates(candidates []searchCandidate, query string) searchCandidate {
	metric := &metrics.SorensenDice{CaseSensitive: false, NgramSize: 2}
	similarity := make(map[string]float64, len(candidates))
	for _, candidate := range candidates {
		similarity[candidate.id] = strutil.Similarity(candidate.title, query, metric)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return similarity[candidates[i].id] > similarity[candidates[j].id]
	})

	log.Emit(logger.VERBOSE, "Ranked %d candidates for query %q; best is %q (%s)\n",
		len(candidates), query, candidates[0].title, candidates[0].id)
	return candidates[0]
}
