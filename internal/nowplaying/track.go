package nowplaying

import (
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
)

// Track is the normalized view of a Spotify track.
type Track struct {
	Name       string     `json:"name"`
	Artist     string     `json:"artist"`
	AlbumArt   *string    `json:"albumArt"`
	IsPlaying  bool       `json:"isPlaying"`
	SpotifyURL string     `json:"spotifyUrl"`
	Progress   *int       `json:"progress,omitempty"`
	Duration   int        `json:"duration"`
	PlayedAt   *time.Time `json:"playedAt,omitempty"`
}

// normalize maps an upstream track. Artist names are joined in upstream
// order, and the album art is the first image listed, if any.
func normalize(t spotify.FullTrack) Track {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}

	var art *string
	if len(t.Album.Images) > 0 {
		url := t.Album.Images[0].URL
		art = &url
	}

	return Track{
		Name:       t.Name,
		Artist:     strings.Join(names, ", "),
		AlbumArt:   art,
		SpotifyURL: t.ExternalURLs["spotify"],
		Duration:   int(t.Duration),
	}
}

func normalizeCurrent(cp spotify.CurrentlyPlaying) Track {
	track := normalize(*cp.Item)
	progress := int(cp.Progress)
	track.Progress = &progress
	return track
}

func normalizeRecent(item recentItem) Track {
	track := normalize(item.Track)
	playedAt := item.PlayedAt
	track.PlayedAt = &playedAt
	return track
}

// recentlyPlayed is the recently-played response. The library's own item
// type carries a simplified track without album images.
type recentlyPlayed struct {
	Items []recentItem `json:"items"`
}

type recentItem struct {
	Track    spotify.FullTrack `json:"track"`
	PlayedAt time.Time         `json:"played_at"`
}
