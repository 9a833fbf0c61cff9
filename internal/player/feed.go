package player

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/chorus/internal/event"
)

// DefaultTimeUpdateInterval is the minimum spacing between timeUpdate
// emissions. Throttling happens here, at the emitting source, so the bus
// never has to rate-limit.
const DefaultTimeUpdateInterval = 250 * time.Millisecond

// Feed translates host player callbacks into bus events.
type Feed struct {
	bus     *event.Bus
	limiter *rate.Limiter
}

// NewFeed creates a feed emitting into the bus. interval <= 0 selects the
// default timeUpdate throttle.
func NewFeed(bus *event.Bus, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = DefaultTimeUpdateInterval
	}
	return &Feed{
		bus:     bus,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// TrackChanged emits trackChange.
func (f *Feed) TrackChanged(track, previous *Track) {
	f.bus.Emit(event.TrackChange, event.TrackChangeData(track.Map(), previous.Map()))
}

// PlayStateChanged emits playStateChange.
func (f *Feed) PlayStateChanged(isPlaying bool) {
	f.bus.Emit(event.PlayStateChange, event.PlayStateChangeData(isPlaying))
}

// TimeChanged emits timeUpdate, dropping updates that arrive faster than the
// configured interval.
func (f *Feed) TimeChanged(currentTime, duration float64) {
	if !f.limiter.Allow() {
		return
	}
	f.bus.Emit(event.TimeUpdate, event.TimeUpdateData(currentTime, duration))
}

// Seeked emits seeked. Seeks are never throttled.
func (f *Feed) Seeked(currentTime, duration float64) {
	f.bus.Emit(event.Seeked, event.SeekedData(currentTime, duration))
}

// QueueChanged emits queueChange.
func (f *Feed) QueueChanged(queue []*Track, index int) {
	items := make([]any, len(queue))
	for i, t := range queue {
		items[i] = t.Map()
	}
	f.bus.Emit(event.QueueChange, event.QueueChangeData(items, index))
}
