package storage

import (
	"encoding/json"
	"os"

	"github.com/eduviz/backend/internal/domain"
)

// SaveVideoInfo writes the durable video metadata record. It survives job
// deletion and intermediate cleanup.
func (l *Layout) SaveVideoInfo(info domain.VideoInfo) error {
	return WriteJSONAtomic(l.VideoInfoPath(info.VideoID), info)
}

// LoadVideoInfo returns the stored record, or nil when absent or unreadable.
func (l *Layout) LoadVideoInfo(videoID string) *domain.VideoInfo {
	data, err := os.ReadFile(l.VideoInfoPath(videoID))
	if err != nil {
		return nil
	}
	var info domain.VideoInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}

// ListAllVideos scans the outputs root for completed video records.
func (l *Layout) ListAllVideos() []domain.VideoInfo {
	entries, err := os.ReadDir(l.OutputsRoot)
	if err != nil {
		return nil
	}
	var videos []domain.VideoInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if info := l.LoadVideoInfo(e.Name()); info != nil {
			videos = append(videos, *info)
		}
	}
	return videos
}
