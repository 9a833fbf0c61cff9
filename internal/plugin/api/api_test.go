package api

import (
	"context"
	"strings"
	"testing"

	"github.com/dshills/chorus/internal/event"
	"github.com/dshills/chorus/internal/player"
	luaruntime "github.com/dshills/chorus/internal/plugin/lua"
	"github.com/dshills/chorus/internal/plugin/security"
	"github.com/dshills/chorus/internal/storage"
)

type fakePlayer struct {
	track   *player.Track
	playing bool
	pos     float64
	played  int
	paused  int
	seeks   []float64
}

func (p *fakePlayer) CurrentTrack() *player.Track { return p.track }
func (p *fakePlayer) IsPlaying() bool             { return p.playing }
func (p *fakePlayer) CurrentTime() float64        { return p.pos }
func (p *fakePlayer) Duration() float64 {
	if p.track == nil {
		return 0
	}
	return p.track.Duration
}
func (p *fakePlayer) Play() error  { p.played++; return nil }
func (p *fakePlayer) Pause() error { p.paused++; return nil }
func (p *fakePlayer) Seek(pos float64) error {
	p.seeks = append(p.seeks, pos)
	return nil
}

type fakeUI struct {
	slots map[string]string
}

func (u *fakeUI) RegisterSlot(plugin, slot, content string) error {
	if u.slots == nil {
		u.slots = make(map[string]string)
	}
	u.slots[plugin+"/"+slot] = content
	return nil
}

func (u *fakeUI) RemoveSlot(plugin, slot string) bool {
	_, ok := u.slots[plugin+"/"+slot]
	delete(u.slots, plugin+"/"+slot)
	return ok
}

type fakeNotifier struct {
	sent []string
}

func (n *fakeNotifier) Notify(plugin, title, body string) error {
	n.sent = append(n.sent, plugin+":"+title)
	return nil
}

type testEnv struct {
	state    *luaruntime.State
	checker  *security.Checker
	bus      *event.Bus
	pl       *fakePlayer
	notifier *fakeNotifier
	ui       *fakeUI
	events   *EventModule
	stream   *StreamModule
	store    *storage.Isolated
}

func setup(t *testing.T, quota int, grants ...security.Permission) *testEnv {
	t.Helper()

	state, err := luaruntime.NewState()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { state.Close() })

	checker := security.NewChecker("testplug")
	checker.GrantAll(grants)

	bus := event.NewBus(nil)
	pl := &fakePlayer{
		track:   &player.Track{ID: 1, Title: "Song", Artist: "Band", Duration: 180},
		playing: true,
		pos:     42,
	}
	store, err := storage.NewIsolated(context.Background(), storage.NewMemory(), "testplug", quota)
	if err != nil {
		t.Fatal(err)
	}

	notifier := &fakeNotifier{}
	ui := &fakeUI{}
	ctx := &Context{
		Player:   pl,
		Events:   bus,
		UI:       ui,
		Notifier: notifier,
		Fetcher:  NewHTTPFetcher(),
	}

	events := NewEventModule(ctx, "testplug", state)
	stream := NewStreamModule("testplug", state)

	reg := NewRegistry()
	modules := []Module{
		NewPlayerModule(ctx, checker),
		NewStorageModule(store, checker, nil),
		NewUIModule(ctx, checker, "testplug"),
		NewNotifyModule(ctx, checker, "testplug"),
		events,
		stream,
	}
	for _, mod := range modules {
		if err := reg.Register(mod); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.InjectAll(state.LuaState()); err != nil {
		t.Fatalf("InjectAll() error = %v", err)
	}

	return &testEnv{
		state:    state,
		checker:  checker,
		bus:      bus,
		pl:       pl,
		notifier: notifier,
		ui:       ui,
		events:   events,
		stream:   stream,
		store:    store,
	}
}

func TestPlayerReadDeniedReturnsDefaults(t *testing.T) {
	env := setup(t, 0)

	if err := env.state.DoString(`
		local p = require("chorus").player
		track = p.current_track()
		playing = p.is_playing()
		pos = p.current_time()
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if env.state.GetGlobal("track").Type().String() != "nil" {
		t.Error("current_track without grant returned a value")
	}
	// The fake player is playing; a denied read must not see that.
	if env.state.GetGlobal("playing").String() != "false" {
		t.Error("is_playing without grant leaked player state")
	}
	if env.state.GetGlobal("pos").String() != "0" {
		t.Errorf("current_time without grant = %s", env.state.GetGlobal("pos").String())
	}
}

func TestPlayerReadGranted(t *testing.T) {
	env := setup(t, 0, security.PermPlayerRead)

	if err := env.state.DoString(`
		local chorus = require("chorus")
		playing = chorus.player.is_playing()
		pos = chorus.player.current_time()
		local track = chorus.player.current_track()
		title = track.title
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if env.state.GetGlobal("playing").String() != "true" {
		t.Error("is_playing returned false")
	}
	if env.state.GetGlobal("title").String() != "Song" {
		t.Errorf("title = %q", env.state.GetGlobal("title").String())
	}
}

func TestPlayerControlSeparateFromRead(t *testing.T) {
	env := setup(t, 0, security.PermPlayerRead)

	if err := env.state.DoString(`ok, err = require("chorus").player.play()`); err != nil {
		t.Fatal(err)
	}
	if env.state.GetGlobal("ok").String() != "false" {
		t.Error("play without player:control returned true")
	}
	if !strings.Contains(env.state.GetGlobal("err").String(), "player:control") {
		t.Errorf("err = %q", env.state.GetGlobal("err").String())
	}
	if env.pl.played != 0 {
		t.Error("denied play reached the provider")
	}

	env.checker.Grant(security.PermPlayerControl)
	if err := env.state.DoString(`require("chorus").player.seek(30)`); err != nil {
		t.Fatalf("seek with control error = %v", err)
	}
	if len(env.pl.seeks) != 1 || env.pl.seeks[0] != 30 {
		t.Errorf("seeks = %v", env.pl.seeks)
	}
}

func TestRevokeTakesEffectNextCall(t *testing.T) {
	env := setup(t, 0, security.PermPlayerRead)

	if err := env.state.DoString(`before = require("chorus").player.is_playing()`); err != nil {
		t.Fatal(err)
	}
	env.checker.Revoke(security.PermPlayerRead)
	if err := env.state.DoString(`after = require("chorus").player.is_playing()`); err != nil {
		t.Fatal(err)
	}
	if env.state.GetGlobal("before").String() != "true" {
		t.Error("granted read returned false")
	}
	if env.state.GetGlobal("after").String() != "false" {
		t.Error("read after revoke still sees player state")
	}
}

func TestStorageRoundTripThroughLua(t *testing.T) {
	env := setup(t, 0, security.PermStorageLocal)

	if err := env.state.DoString(`
		local st = require("chorus").storage
		ok = st.set("count", "5")
		got = st.get("count")
		missing = st.get("nope")
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if env.state.GetGlobal("ok").String() != "true" {
		t.Error("set returned false")
	}
	if env.state.GetGlobal("got").String() != "5" {
		t.Errorf("get = %q", env.state.GetGlobal("got").String())
	}
	if env.state.GetGlobal("missing").Type().String() != "nil" {
		t.Errorf("get(missing) = %v", env.state.GetGlobal("missing"))
	}
}

func TestStorageQuotaSurfacesToLua(t *testing.T) {
	env := setup(t, 20, security.PermStorageLocal)

	if err := env.state.DoString(`
		local st = require("chorus").storage
		ok, err = st.set("key", "a value that is too long for the quota")
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if env.state.GetGlobal("ok").String() != "false" {
		t.Error("over-quota set returned true")
	}
	if !strings.Contains(env.state.GetGlobal("err").String(), "quota") {
		t.Errorf("err = %q, want quota message", env.state.GetGlobal("err").String())
	}
	if env.store.UsedBytes() != 0 {
		t.Errorf("UsedBytes() = %d after rejected write", env.store.UsedBytes())
	}
}

func TestStorageDeniedWithoutGrant(t *testing.T) {
	env := setup(t, 0, security.PermPlayerRead)

	if err := env.state.DoString(`
		local st = require("chorus").storage
		ok, err = st.set("k", "v")
		got = st.get("k")
	`); err != nil {
		t.Fatal(err)
	}
	if env.state.GetGlobal("ok").String() != "false" {
		t.Error("ungranted set returned true")
	}
	if !strings.Contains(env.state.GetGlobal("err").String(), "storage:local") {
		t.Errorf("err = %q", env.state.GetGlobal("err").String())
	}
	if env.state.GetGlobal("got").Type().String() != "nil" {
		t.Error("ungranted get returned a value")
	}
	if env.store.UsedBytes() != 0 {
		t.Error("denied set reached the backend")
	}
}

func TestNotifyDeniedWithoutGrant(t *testing.T) {
	env := setup(t, 0)

	if err := env.state.DoString(`ok, err = require("chorus").notify.send("hi")`); err != nil {
		t.Fatal(err)
	}
	if env.state.GetGlobal("ok").String() != "false" {
		t.Error("ungranted notify returned true")
	}
	if len(env.notifier.sent) != 0 {
		t.Error("denied notify reached the provider")
	}
}

func TestUISlotThroughLua(t *testing.T) {
	env := setup(t, 0, security.PermUIPlayerBar)

	if err := env.state.DoString(`
		local ui = require("chorus").ui
		ok = ui.register_slot("playerbar-left", "<lyrics/>")
		removed = ui.remove_slot("playerbar-left")
		removed_again = ui.remove_slot("playerbar-left")
	`); err != nil {
		t.Fatal(err)
	}
	if env.state.GetGlobal("ok").String() != "true" {
		t.Error("register_slot returned false")
	}
	if env.state.GetGlobal("removed").String() != "true" {
		t.Error("remove_slot returned false for existing slot")
	}
	if env.state.GetGlobal("removed_again").String() != "false" {
		t.Error("remove_slot returned true for absent slot")
	}
}

func TestEventOnAndHostEmit(t *testing.T) {
	env := setup(t, 0)

	if err := env.state.DoString(`
		local events = require("chorus").events
		sub = events.on("trackChange", function(data)
			seen = data.track.title
		end)
	`); err != nil {
		t.Fatal(err)
	}

	env.bus.Emit(event.TrackChange, event.TrackChangeData(
		map[string]any{"title": "Next Song"}, nil))

	if got := env.state.GetGlobal("seen").String(); got != "Next Song" {
		t.Errorf("seen = %q, want Next Song", got)
	}
}

func TestEventOff(t *testing.T) {
	env := setup(t, 0)

	if err := env.state.DoString(`
		local events = require("chorus").events
		count = 0
		local sub = events.on("playStateChange", function() count = count + 1 end)
		events.off(sub)
	`); err != nil {
		t.Fatal(err)
	}

	env.bus.Emit(event.PlayStateChange, nil)
	if got := env.state.GetGlobal("count").String(); got != "0" {
		t.Errorf("count = %s after off", got)
	}
}

func TestEventOnce(t *testing.T) {
	env := setup(t, 0)

	if err := env.state.DoString(`
		local events = require("chorus").events
		count = 0
		events.once("seeked", function() count = count + 1 end)
	`); err != nil {
		t.Fatal(err)
	}

	env.bus.Emit(event.Seeked, nil)
	env.bus.Emit(event.Seeked, nil)
	if got := env.state.GetGlobal("count").String(); got != "1" {
		t.Errorf("count = %s, want 1", got)
	}
}

func TestEventEmitIsNamespaced(t *testing.T) {
	env := setup(t, 0)

	var gotEvent string
	var gotSource any
	env.bus.Subscribe("host", "plugin.testplug.scrobbled", func(data map[string]any) error {
		gotEvent = "plugin.testplug.scrobbled"
		gotSource = data["source"]
		return nil
	})

	if err := env.state.DoString(`
		require("chorus").events.emit("scrobbled", { track = "Song" })
	`); err != nil {
		t.Fatal(err)
	}
	if gotEvent == "" {
		t.Fatal("namespaced event not received")
	}
	if gotSource != "plugin:testplug" {
		t.Errorf("source = %v", gotSource)
	}
}

func TestEventCleanupRemovesSubscriptions(t *testing.T) {
	env := setup(t, 0)

	if err := env.state.DoString(`
		local events = require("chorus").events
		events.on("trackChange", function() end)
		events.on("timeUpdate", function() end)
	`); err != nil {
		t.Fatal(err)
	}
	if got := env.bus.Stats().ActiveSubscriptions; got != 2 {
		t.Fatalf("ActiveSubscriptions = %d, want 2", got)
	}

	env.events.Cleanup()
	if got := env.bus.Stats().ActiveSubscriptions; got != 0 {
		t.Errorf("ActiveSubscriptions after Cleanup = %d", got)
	}

	// The module remains usable after Cleanup.
	if err := env.state.DoString(`
		require("chorus").events.on("trackChange", function() resubbed = true end)
	`); err != nil {
		t.Fatal(err)
	}
	env.bus.Emit(event.TrackChange, nil)
	if env.state.GetGlobal("resubbed").String() != "true" {
		t.Error("subscription after Cleanup did not fire")
	}
}

func TestEventHandlerSkippedAfterStateClose(t *testing.T) {
	env := setup(t, 0)

	if err := env.state.DoString(`
		require("chorus").events.on("trackChange", function() end)
	`); err != nil {
		t.Fatal(err)
	}
	if err := env.state.Close(); err != nil {
		t.Fatal(err)
	}

	// The subscription is still on the bus; dispatch must not touch the
	// closed VM.
	env.bus.Emit(event.TrackChange, nil)
	stats := env.bus.Stats()
	if stats.HandlerPanics != 0 {
		t.Errorf("HandlerPanics = %d, want 0", stats.HandlerPanics)
	}
	if stats.HandlerErrors != 0 {
		t.Errorf("HandlerErrors = %d, want 0", stats.HandlerErrors)
	}
}

func TestStreamResolver(t *testing.T) {
	env := setup(t, 0)

	if _, err := env.stream.Resolve("youtube", "abc123"); err != ErrNoResolver {
		t.Errorf("Resolve without registration error = %v, want ErrNoResolver", err)
	}

	if err := env.state.DoString(`
		require("chorus").stream.register_resolver("youtube")
		function resolve_stream(source_type, external_id)
			return "https://streams.example/" .. source_type .. "/" .. external_id
		end
	`); err != nil {
		t.Fatal(err)
	}
	if !env.stream.ResolvesSource("youtube") {
		t.Fatal("ResolvesSource(youtube) = false after registration")
	}
	if env.stream.ResolvesSource("soundcloud") {
		t.Error("ResolvesSource(soundcloud) = true without registration")
	}

	url, err := env.stream.Resolve("youtube", "abc123")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if url != "https://streams.example/youtube/abc123" {
		t.Errorf("Resolve() = %q", url)
	}

	env.stream.Cleanup()
	if env.stream.ResolvesSource("youtube") {
		t.Error("ResolvesSource() = true after Cleanup")
	}
}

func TestStreamResolverMissingGlobal(t *testing.T) {
	env := setup(t, 0)

	if err := env.state.DoString(`
		require("chorus").stream.register_resolver("youtube")
	`); err != nil {
		t.Fatal(err)
	}
	if _, err := env.stream.Resolve("youtube", "x"); err == nil {
		t.Error("Resolve without resolve_stream global succeeded")
	}
}

func TestChorusLoaderAggregates(t *testing.T) {
	env := setup(t, 0, security.PermPlayerRead, security.PermStorageLocal)

	if err := env.state.DoString(`
		local chorus = require("chorus")
		has_player = chorus.player ~= nil
		has_storage = chorus.storage ~= nil
		has_events = chorus.events ~= nil
		version = chorus.api_version
		direct = require("chorus.player") ~= nil
	`); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"has_player", "has_storage", "has_events", "direct"} {
		if env.state.GetGlobal(name).String() != "true" {
			t.Errorf("%s = false", name)
		}
	}
	if env.state.GetGlobal("version").String() != "1" {
		t.Errorf("api_version = %s", env.state.GetGlobal("version").String())
	}
}
