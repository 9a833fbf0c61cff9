package event

import (
	"errors"
	"testing"
)

func TestEmitOrder(t *testing.T) {
	b := NewBus(nil)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe("test", TrackChange, func(map[string]any) error {
			order = append(order, i)
			return nil
		})
	}

	b.Emit(TrackChange, nil)

	if len(order) != 5 {
		t.Fatalf("handlers executed = %d, want 5", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("order[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestEmitContainsFailures(t *testing.T) {
	b := NewBus(nil)

	var ran []string
	b.Subscribe("pluginA", TrackChange, func(map[string]any) error {
		ran = append(ran, "h1")
		return nil
	})
	b.Subscribe("pluginB", TrackChange, func(map[string]any) error {
		panic("boom")
	})
	b.Subscribe("pluginC", TrackChange, func(map[string]any) error {
		ran = append(ran, "h3")
		return errors.New("handler failed")
	})

	b.Emit(TrackChange, map[string]any{"track": nil})

	if len(ran) != 2 || ran[0] != "h1" || ran[1] != "h3" {
		t.Errorf("ran = %v, want [h1 h3]", ran)
	}

	stats := b.Stats()
	if stats.HandlerPanics != 1 {
		t.Errorf("HandlerPanics = %d, want 1", stats.HandlerPanics)
	}
	if stats.HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", stats.HandlerErrors)
	}

	// A failing handler must not poison subsequent emits.
	b.Emit(TrackChange, nil)
	if len(ran) != 4 {
		t.Errorf("second emit executed %d healthy handlers, want 2 more", len(ran)-2)
	}
}

func TestRemovePlugin(t *testing.T) {
	b := NewBus(nil)

	var calls int
	b.Subscribe("doomed", TrackChange, func(map[string]any) error {
		calls++
		return nil
	})
	b.Subscribe("doomed", PlayStateChange, func(map[string]any) error {
		calls++
		return nil
	})
	b.Subscribe("survivor", TrackChange, func(map[string]any) error {
		return nil
	})

	if n := b.RemovePlugin("doomed"); n != 2 {
		t.Errorf("RemovePlugin() = %d, want 2", n)
	}

	b.Emit(TrackChange, nil)
	b.Emit(PlayStateChange, nil)

	if calls != 0 {
		t.Errorf("removed plugin's handlers ran %d times", calls)
	}
	if b.Subscriptions(TrackChange) != 1 {
		t.Errorf("Subscriptions(TrackChange) = %d, want 1", b.Subscriptions(TrackChange))
	}
}

func TestUnsubscribeMidDispatch(t *testing.T) {
	b := NewBus(nil)

	var ran []string
	var id2 string
	b.Subscribe("a", Seeked, func(map[string]any) error {
		ran = append(ran, "h1")
		// Removing h2 mid-dispatch must not affect the current pass.
		b.Unsubscribe(id2)
		return nil
	})
	id2 = b.Subscribe("b", Seeked, func(map[string]any) error {
		ran = append(ran, "h2")
		return nil
	})

	b.Emit(Seeked, nil)
	if len(ran) != 2 {
		t.Fatalf("first emit ran %v, want both handlers", ran)
	}

	b.Emit(Seeked, nil)
	if len(ran) != 3 {
		t.Errorf("second emit ran %d handlers, want 1 (h2 unsubscribed)", len(ran)-2)
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	b := NewBus(nil)
	if b.Unsubscribe("nope") {
		t.Error("Unsubscribe(unknown) = true, want false")
	}
}

func TestRemoveAll(t *testing.T) {
	b := NewBus(nil)
	b.Subscribe("a", TrackChange, func(map[string]any) error { return nil })
	b.Subscribe("b", TimeUpdate, func(map[string]any) error { return nil })

	b.RemoveAll()

	if got := b.Stats().ActiveSubscriptions; got != 0 {
		t.Errorf("ActiveSubscriptions = %d, want 0", got)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	b := NewBus(nil)
	if id := b.Subscribe("a", TrackChange, nil); id != "" {
		t.Errorf("Subscribe(nil handler) = %q, want empty", id)
	}
}
