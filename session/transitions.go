package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/easelworks/easel/auth"
	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/download"
	"github.com/easelworks/easel/playback"
)

var (
	// ErrInvalidStateTransition means a transition was invoked from a
	// state outside its precondition set. This is a programming defect in
	// the caller, not an environmental failure; state is left untouched.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrMachineStopped means the machine was suspended or closed before
	// the transition could run.
	ErrMachineStopped = errors.New("state machine stopped")
)

// transition applies a state change on the command loop after checking the
// precondition set. A nil allowed set means any state. The pipeline context
// is checked on the loop so a transition racing a suspend loses cleanly: no
// partial mutation ever lands from a cancelled pipeline.
func (m *Machine) transition(ctx context.Context, allowed []Kind, apply func(prev State) State) error {
	err := error(ErrMachineStopped)
	m.run(func() {
		if ctx != nil && ctx.Err() != nil {
			err = ctx.Err()
			return
		}
		if allowed != nil && !kindIn(m.state.Kind, allowed) {
			err = errors.Wrapf(ErrInvalidStateTransition, "from %s", m.state.Kind)
			return
		}
		next := apply(m.state)
		m.log.Debug().Stringer("from", m.state.Kind).Stringer("to", next.Kind).Msg("state transition")
		m.state = next
		err = nil
	})
	return err
}

func kindIn(k Kind, set []Kind) bool {
	for _, candidate := range set {
		if k == candidate {
			return true
		}
	}
	return false
}

// TransitionToDeviceCodeWaiting enters the waiting state with a fresh
// challenge. Re-entry from DeviceCodeWaiting is allowed for the
// expired-challenge restart.
func (m *Machine) TransitionToDeviceCodeWaiting(ctx context.Context, challenge *auth.DeviceCodeChallenge) error {
	return m.transition(ctx, []Kind{KindStartup, KindDeviceCodeWaiting}, func(State) State {
		return State{Kind: KindDeviceCodeWaiting, Challenge: challenge}
	})
}

// TransitionToDeviceCodeFailed records a device-flow failure. Reachable
// from any state because failures surface from several stages.
func (m *Machine) TransitionToDeviceCodeFailed(ctx context.Context, cause error) error {
	return m.transition(ctx, nil, func(State) State {
		return State{Kind: KindDeviceCodeFailed, Err: cause}
	})
}

// TransitionToDeviceCodeClaimed marks the challenge as redeemed.
func (m *Machine) TransitionToDeviceCodeClaimed(ctx context.Context) error {
	return m.transition(ctx, []Kind{KindDeviceCodeWaiting}, func(State) State {
		return State{Kind: KindDeviceCodeClaimed}
	})
}

// TransitionToHasToken marks the refresh token as available, either from
// persisted state at startup or straight after a claim.
func (m *Machine) TransitionToHasToken(ctx context.Context) error {
	return m.transition(ctx, []Kind{KindStartup, KindDeviceCodeClaimed}, func(State) State {
		return State{Kind: KindHasToken}
	})
}

// TransitionToRegisteringSurface enters surface registration.
func (m *Machine) TransitionToRegisteringSurface(ctx context.Context) error {
	return m.transition(ctx, []Kind{KindHasToken}, func(State) State {
		return State{Kind: KindRegisteringSurface}
	})
}

// TransitionToLoadingSurfaceInfo enters the hello fetch. Registration is
// skipped when a surface id is already persisted, hence both preconditions.
func (m *Machine) TransitionToLoadingSurfaceInfo(ctx context.Context) error {
	return m.transition(ctx, []Kind{KindHasToken, KindRegisteringSurface}, func(State) State {
		return State{Kind: KindLoadingSurfaceInfo}
	})
}

// TransitionToNoPlaylist is terminal until an external retrigger: the
// surface exists but has nothing assigned to show.
func (m *Machine) TransitionToNoPlaylist(ctx context.Context, surface *Surface) error {
	return m.transition(ctx, []Kind{KindLoadingSurfaceInfo}, func(State) State {
		return State{Kind: KindNoPlaylist, Surface: surface}
	})
}

// TransitionToLoadingPlaylist enters the playlist fetch.
func (m *Machine) TransitionToLoadingPlaylist(ctx context.Context, surface *Surface, playlistID, etag string) error {
	return m.transition(ctx, []Kind{KindLoadingSurfaceInfo}, func(State) State {
		return State{Kind: KindLoadingPlaylist, Surface: surface, PlaylistID: playlistID, ETag: etag}
	})
}

// TransitionToDownloadingAssets records the fetched playlist and the queue
// that will resolve its assets.
func (m *Machine) TransitionToDownloadingAssets(ctx context.Context, doc *catalog.PlaylistDocument) error {
	return m.transition(ctx, []Kind{KindLoadingPlaylist}, func(prev State) State {
		playlist := doc.Playlist
		return State{
			Kind:       KindDownloadingAssets,
			Surface:    prev.Surface,
			PlaylistID: prev.PlaylistID,
			ETag:       doc.ETag,
			Playlist:   &playlist,
			Queue:      m.queue,
		}
	})
}

// TransitionToPlaying accepts the complete resolved asset set and starts the
// playback scheduler.
func (m *Machine) TransitionToPlaying(ctx context.Context, assets []download.CachedAsset) error {
	return m.transition(ctx, []Kind{KindDownloadingAssets}, func(prev State) State {
		scheduler := playback.NewScheduler(*prev.Playlist, assets, m.log)
		return State{
			Kind:       KindPlaying,
			Surface:    prev.Surface,
			PlaylistID: prev.PlaylistID,
			ETag:       prev.ETag,
			Playlist:   prev.Playlist,
			Assets:     assets,
			Scheduler:  scheduler,
		}
	})
}

// TransitionToSyncFailed records a post-auth pipeline failure.
func (m *Machine) TransitionToSyncFailed(ctx context.Context, cause error) error {
	return m.transition(ctx, nil, func(prev State) State {
		if prev.Scheduler != nil {
			prev.Scheduler.Stop()
		}
		return State{Kind: KindSyncFailed, Err: cause}
	})
}
