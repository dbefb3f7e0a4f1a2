// Package playback rotates through a playlist's scenes on a duration-driven
// timer.
package playback

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/download"
)

var (
	// ErrNoAssets means the current scene references no assets.
	ErrNoAssets = errors.New("scene has no assets")

	// ErrAssetUnavailable means the scene's asset is not in the resolved
	// set or its cached file cannot be read.
	ErrAssetUnavailable = errors.New("asset unavailable")
)

// timerFactory lets tests replace time.AfterFunc.
type timerFactory func(d time.Duration, fn func()) *time.Timer

// Scheduler owns the current scene index for one resolved playlist. All
// methods are safe for concurrent use; the advance timer and the render
// loop race only against the internal mutex.
type Scheduler struct {
	playlist catalog.Playlist
	assets   map[string]download.CachedAsset
	log      zerolog.Logger

	newTimer timerFactory

	lock       sync.Mutex
	sceneIndex int
	timer      *time.Timer
	stopped    bool
}

// SchedulerOption modifies a Scheduler at construction.
type SchedulerOption func(*Scheduler)

// WithTimerFactory replaces the timer constructor (for testing).
func WithTimerFactory(f timerFactory) SchedulerOption {
	return func(s *Scheduler) {
		s.newTimer = f
	}
}

// NewScheduler builds a Scheduler starting at scene 0 and arms the first
// scene's timer. A playlist with no scenes produces a valid, inert
// scheduler: no timer is ever armed and Advance is a no-op.
func NewScheduler(playlist catalog.Playlist, assets []download.CachedAsset, log zerolog.Logger, options ...SchedulerOption) *Scheduler {
	byID := make(map[string]download.CachedAsset, len(assets))
	for _, asset := range assets {
		byID[asset.AssetID] = asset
	}
	s := &Scheduler{
		playlist: playlist,
		assets:   byID,
		log:      log.With().Str("component", "playback").Logger(),
		newTimer: time.AfterFunc,
	}
	for _, opt := range options {
		opt(s)
	}

	s.lock.Lock()
	s.armLocked()
	s.lock.Unlock()
	return s
}

// SceneIndex returns the current scene index.
func (s *Scheduler) SceneIndex() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.sceneIndex
}

// CurrentScene returns the scene the scheduler is on, or false for an empty
// playlist.
func (s *Scheduler) CurrentScene() (catalog.Scene, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.playlist.Scenes) == 0 {
		return catalog.Scene{}, false
	}
	return s.playlist.Scenes[s.sceneIndex], true
}

// Advance moves to the next scene, wrapping at the end, and re-arms the
// timer for the new scene's duration. On an empty playlist it does nothing.
func (s *Scheduler) Advance() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.playlist.Scenes) == 0 || s.stopped {
		return
	}
	s.sceneIndex = (s.sceneIndex + 1) % len(s.playlist.Scenes)
	s.log.Debug().Int("scene", s.sceneIndex).Msg("scene advanced")
	s.armLocked()
}

// Stop cancels any pending scene timer. The scheduler keeps its index but
// will not advance again.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stopped = true
	s.cancelTimerLocked()
}

// CurrentImageBytes reads the cached content of the current scene's first
// asset.
func (s *Scheduler) CurrentImageBytes() ([]byte, error) {
	scene, ok := s.CurrentScene()
	if !ok || len(scene.Assets) == 0 {
		return nil, ErrNoAssets
	}
	assetID := scene.Assets[0].AssetID
	asset, ok := s.assets[assetID]
	if !ok {
		return nil, errors.Wrapf(ErrAssetUnavailable, "[CurrentImageBytes] %s not in resolved set", assetID)
	}
	content, err := os.ReadFile(asset.LocalPath)
	if err != nil {
		return nil, errors.Wrapf(ErrAssetUnavailable, "[CurrentImageBytes] read %s: %v", asset.LocalPath, err)
	}
	return content, nil
}

// armLocked cancels any pending timer and schedules the advance for the
// current scene. Called with the lock held; invalidate-then-reschedule keeps
// at most one timer pending.
func (s *Scheduler) armLocked() {
	s.cancelTimerLocked()
	if len(s.playlist.Scenes) == 0 || s.stopped {
		return
	}
	duration := time.Duration(s.playlist.Scenes[s.sceneIndex].Duration) * time.Second
	s.log.Debug().Dur("duration", duration).Int("scene", s.sceneIndex).Msg("next scene change scheduled")
	s.timer = s.newTimer(duration, s.Advance)
}

func (s *Scheduler) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
