package clip

import (
	"github.com/hbomb79/Vidra/internal/tiktok"
)

// MetadataFromItemDetail projects the upstream item document in to the
// metadata model Vidra persists. Enrichment fields (media details,
// fingerprint, music file id) are populated later by the coordinator.
func MetadataFromItemDetail(detail *tiktok.ItemDetail) Metadata {
	return Metadata{
		ClipID:       detail.ID,
		Description:  detail.Description,
		Region:       detail.LocationCreated,
		CreateTime:   detail.CreateTime,
		Duration:     detail.Video.Duration,
		IsAlbum:      detail.ImagePost != nil,
		IsDuet:       len(detail.DuetInfo) > 0,
		IsStitch:     len(detail.StitchInfo) > 0,
		ShadowBanned: len(detail.WarnInfo) > 0 || detail.PrivateItem,
		Author: Author{
			UniqueID:  detail.Author.UniqueID,
			Nickname:  detail.Author.Nickname,
			Signature: detail.Author.Signature,
			Verified:  detail.Author.Verified,
		},
		AuthorStats: detail.AuthorStats,
		Music: Music{
			Title:      detail.Music.Title,
			AuthorName: detail.Music.AuthorName,
			Original:   detail.Music.Original,
		},
		Statistics: Statistics{
			DiggCount:    detail.Stats.DiggCount,
			CommentCount: detail.Stats.CommentCount,
			ShareCount:   detail.Stats.ShareCount,
			PlayCount:    detail.Stats.PlayCount,
		},
	}
}
