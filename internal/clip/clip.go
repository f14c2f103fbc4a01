// Package clip contains the domain model for an acquired clip and the
// validating acquisition cache which sits in front of the durable
// record store.
package clip

import (
	"fmt"
	"strings"
	"time"
)

type (
	// Record is one cached acquisition artifact: the clip metadata
	// document plus the on-disk locations of its backing files.
	Record struct {
		ID        string
		Metadata  Metadata
		MediaPath string
		AudioPath *string
		CreatedAt time.Time
	}

	// Metadata is the structured document describing a clip. It is
	// stored opaquely (as a JSON column) by the record store.
	Metadata struct {
		ClipID       string         `json:"clip_id"`
		Description  string         `json:"description"`
		Region       string         `json:"region"`
		CreateTime   int64          `json:"create_time"`
		Duration     int            `json:"duration"`
		IsAlbum      bool           `json:"is_album"`
		IsDuet       bool           `json:"is_duet"`
		IsStitch     bool           `json:"is_stitch"`
		ShadowBanned bool           `json:"shadow_banned"`
		Author       Author         `json:"author"`
		AuthorStats  map[string]any `json:"author_stats,omitempty"`
		Music        Music          `json:"music"`
		Statistics   Statistics     `json:"statistics"`
		MediaDetails *MediaDetails  `json:"media_details,omitempty"`
		Fingerprint  *Fingerprint   `json:"fingerprint,omitempty"`
		MusicFileID  *string        `json:"music_file_id,omitempty"`
	}

	Author struct {
		UniqueID  string `json:"unique_id"`
		Nickname  string `json:"nickname"`
		Signature string `json:"signature,omitempty"`
		Verified  bool   `json:"verified"`
	}

	Music struct {
		Title      string `json:"title"`
		AuthorName string `json:"author_name"`
		Original   bool   `json:"original"`
	}

	Statistics struct {
		DiggCount    int64 `json:"digg_count"`
		CommentCount int64 `json:"comment_count"`
		ShareCount   int64 `json:"share_count"`
		PlayCount    int64 `json:"play_count"`
	}

	// MediaDetails holds the technical properties extracted from the
	// downloaded media file by the frame-inspection probe.
	MediaDetails struct {
		Resolution string  `json:"resolution"`
		Fps        float64 `json:"fps"`
		Size       string  `json:"size"`
	}

	// Fingerprint is a positive audio-recognition result.
	Fingerprint struct {
		Artist string `json:"artist"`
		Title  string `json:"title"`
	}
)

// Query renders the fingerprint as the search query handed to the
// secondary audio retriever.
func (fingerprint *Fingerprint) Query() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", fingerprint.Artist, fingerprint.Title))
}

// NeedsEnrichment reports whether this metadata carries an unresolved
// enrichment opportunity: a positive fingerprint whose secondary audio
// was never recovered. Cache hits with this property spawn a fresh
// enrichment task.
func (metadata *Metadata) NeedsEnrichment() bool {
	return metadata.Fingerprint != nil && metadata.MusicFileID == nil
}

func (record *Record) String() string {
	return fmt.Sprintf("Record{ID=%s created_at=%s}", record.ID, record.CreatedAt.Format(time.RFC3339))
}
