// Package player defines the host player surface the plugin runtime observes
// and commands. The core never owns audio playback; it talks to whatever
// native player backend the host wires in through the Player interface.
package player

// Track describes one playable item.
type Track struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album"`
	Duration float64 `json:"duration"`
	Path     string  `json:"path,omitempty"`
	CoverURL string  `json:"coverUrl,omitempty"`
}

// Map converts a track to the payload shape handlers receive.
func (t *Track) Map() map[string]any {
	if t == nil {
		return nil
	}
	return map[string]any{
		"id":       t.ID,
		"title":    t.Title,
		"artist":   t.Artist,
		"album":    t.Album,
		"duration": t.Duration,
		"path":     t.Path,
		"coverUrl": t.CoverURL,
	}
}

// Player is the host player backend.
type Player interface {
	// CurrentTrack returns the playing track, or nil when idle.
	CurrentTrack() *Track

	// IsPlaying reports whether playback is running.
	IsPlaying() bool

	// CurrentTime returns the playback position in seconds.
	CurrentTime() float64

	// Duration returns the current track length in seconds.
	Duration() float64

	// Play resumes playback.
	Play() error

	// Pause pauses playback.
	Pause() error

	// Seek moves the playback position to pos seconds.
	Seek(pos float64) error
}
