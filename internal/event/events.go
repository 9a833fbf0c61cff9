package event

// Host event names. Plugins subscribe to these through the broker's event
// module; plugin-emitted events are namespaced "plugin.<name>.<event>" and
// never collide with this set.
const (
	// TrackChange fires when playback moves to a different track.
	// Data: track, previousTrack.
	TrackChange = "trackChange"

	// PlayStateChange fires on play/pause. Data: isPlaying.
	PlayStateChange = "playStateChange"

	// TimeUpdate fires as playback position advances. Throttled at the
	// emitting source, not here. Data: currentTime, duration.
	TimeUpdate = "timeUpdate"

	// Seeked fires after a seek completes. Data: currentTime, duration.
	Seeked = "seeked"

	// QueueChange fires when the play queue is reordered or replaced.
	// Data: queue, index.
	QueueChange = "queueChange"
)

// TrackChangeData builds the trackChange payload.
func TrackChangeData(track, previous map[string]any) map[string]any {
	return map[string]any{
		"track":         track,
		"previousTrack": previous,
	}
}

// PlayStateChangeData builds the playStateChange payload.
func PlayStateChangeData(isPlaying bool) map[string]any {
	return map[string]any{"isPlaying": isPlaying}
}

// TimeUpdateData builds the timeUpdate payload.
func TimeUpdateData(currentTime, duration float64) map[string]any {
	return map[string]any{
		"currentTime": currentTime,
		"duration":    duration,
	}
}

// SeekedData builds the seeked payload.
func SeekedData(currentTime, duration float64) map[string]any {
	return map[string]any{
		"currentTime": currentTime,
		"duration":    duration,
	}
}

// QueueChangeData builds the queueChange payload.
func QueueChangeData(queue []any, index int) map[string]any {
	return map[string]any{
		"queue": queue,
		"index": index,
	}
}
