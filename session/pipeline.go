package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/internal/utils"
	"github.com/easelworks/easel/prefs"
)

// runPipeline is the forward-only sync flow. It runs on its own goroutine;
// every state change goes through a transition, so cancellation (suspend)
// makes the next transition fail and the pipeline unwinds without touching
// state again.
func (m *Machine) runPipeline(ctx context.Context) {
	if !m.auth.HasRefreshToken() {
		m.log.Info().Msg("no refresh token, starting device-code flow")
		if !m.deviceCodeFlow(ctx) {
			return
		}
	} else {
		if err := m.TransitionToHasToken(ctx); err != nil {
			m.log.Warn().Err(err).Msg("pipeline abandoned before token stage")
			return
		}
	}
	m.syncSurface(ctx)
}

// deviceCodeFlow acquires a challenge and polls it to completion. Returns
// true once a refresh token is stored and the machine holds HasToken. One
// poll per server-specified interval, never overlapping; an expired
// challenge is discarded and acquisition restarts; cancellation stops the
// wait immediately and leaves no timer running.
func (m *Machine) deviceCodeFlow(ctx context.Context) bool {
	challenge, err := m.auth.AcquireDeviceCode(ctx)
	if err != nil {
		m.failDeviceFlow(ctx, err)
		return false
	}
	if err := m.TransitionToDeviceCodeWaiting(ctx, challenge); err != nil {
		m.log.Warn().Err(err).Msg("pipeline abandoned entering device-code wait")
		return false
	}

	for {
		if !sleep(ctx, challenge.Interval) {
			return false
		}

		grant, pending, err := m.auth.PollDeviceCode(ctx, challenge)
		if err != nil {
			m.failDeviceFlow(ctx, err)
			return false
		}
		if !pending {
			if err := m.TransitionToDeviceCodeClaimed(ctx); err != nil {
				m.log.Warn().Err(err).Msg("pipeline abandoned claiming device code")
				return false
			}
			if err := m.auth.StoreRefreshGrant(grant); err != nil {
				m.failDeviceFlow(ctx, err)
				return false
			}
			if err := m.TransitionToHasToken(ctx); err != nil {
				m.log.Warn().Err(err).Msg("pipeline abandoned after device claim")
				return false
			}
			return true
		}

		if challenge.Expired(m.nowFunc()) {
			m.log.Info().Str("user_code", challenge.UserCode).Msg("device code expired, reacquiring")
			challenge, err = m.auth.AcquireDeviceCode(ctx)
			if err != nil {
				m.failDeviceFlow(ctx, err)
				return false
			}
			if err := m.TransitionToDeviceCodeWaiting(ctx, challenge); err != nil {
				m.log.Warn().Err(err).Msg("pipeline abandoned restarting device-code wait")
				return false
			}
		}
	}
}

// syncSurface runs the authenticated half of the pipeline: surface identity,
// playlist, assets, playback.
func (m *Machine) syncSurface(ctx context.Context) {
	token, err := m.auth.AccessToken(ctx)
	if err != nil {
		m.failSync(ctx, errors.Wrap(err, "resolve access token"))
		return
	}

	surfaceID, err := m.surfaceID(ctx, token)
	if err != nil {
		m.failSync(ctx, errors.Wrap(err, "resolve surface id"))
		return
	}

	if err := m.TransitionToLoadingSurfaceInfo(ctx); err != nil {
		m.log.Warn().Err(err).Msg("pipeline abandoned before hello")
		return
	}
	hello, err := m.api.Hello(ctx, token, surfaceID)
	if err != nil {
		m.failSync(ctx, errors.Wrap(err, "hello"))
		return
	}
	surface := newSurface(hello)
	m.log.Info().Str("name", surface.Name).Int("rotation", surface.Rotation).Msg("surface identified")

	if surface.PlaylistID == nil {
		m.log.Info().Msg("no playlist assigned")
		if err := m.TransitionToNoPlaylist(ctx, surface); err != nil {
			m.log.Warn().Err(err).Msg("pipeline abandoned entering no-playlist")
		}
		return
	}
	playlistID := *surface.PlaylistID

	if err := m.TransitionToLoadingPlaylist(ctx, surface, playlistID, ""); err != nil {
		m.log.Warn().Err(err).Msg("pipeline abandoned before playlist fetch")
		return
	}
	doc, err := m.api.Playlist(ctx, token, playlistID)
	if err != nil {
		m.failSync(ctx, errors.Wrapf(err, "fetch playlist %s", playlistID))
		return
	}

	if err := m.TransitionToDownloadingAssets(ctx, doc); err != nil {
		m.log.Warn().Err(err).Msg("pipeline abandoned before downloads")
		return
	}
	ids := doc.Playlist.AssetIDs()
	m.log.Info().Int("assets", len(ids)).Str("playlist", doc.Playlist.Name).Msg("resolving playlist assets")
	assets, err := m.queue.Resolve(ctx, ids, m.cacheDir, m.auth.AccessToken)
	if err != nil {
		m.failSync(ctx, errors.Wrap(err, "resolve assets"))
		return
	}

	if err := m.TransitionToPlaying(ctx, assets); err != nil {
		m.log.Warn().Err(err).Msg("pipeline abandoned entering playback")
		return
	}
	m.log.Info().Msg("playing")
}

// surfaceID reuses the persisted surface identifier or registers a new one
// and persists it.
func (m *Machine) surfaceID(ctx context.Context, token string) (string, error) {
	if id, ok := m.prefs.GetString(prefs.KeySurfaceID); ok && id != "" {
		m.log.Debug().Str("surface_id", id).Msg("reusing persisted surface id")
		return id, nil
	}
	if err := m.TransitionToRegisteringSurface(ctx); err != nil {
		return "", err
	}
	registration, err := m.api.RegisterSurface(ctx, token)
	if err != nil {
		return "", errors.Wrap(err, "register surface")
	}
	if err := m.prefs.SetString(prefs.KeySurfaceID, registration.ID); err != nil {
		return "", errors.Wrap(err, "persist surface id")
	}
	return registration.ID, nil
}

// failDeviceFlow surfaces a device-flow failure unless the pipeline was
// cancelled, in which case there is nothing to surface.
func (m *Machine) failDeviceFlow(ctx context.Context, cause error) {
	if ctx.Err() != nil {
		return
	}
	m.log.Error().Err(cause).Msg("device-code flow failed")
	if err := m.TransitionToDeviceCodeFailed(ctx, cause); err != nil {
		m.log.Warn().Err(err).Msg("could not record device-code failure")
	}
}

// failSync surfaces a post-auth stage failure. Errors are caught here, at
// the machine boundary; the pipeline never panics or crashes the process on
// a recoverable failure.
func (m *Machine) failSync(ctx context.Context, cause error) {
	if ctx.Err() != nil {
		return
	}
	m.log.Error().Err(cause).Msg("sync pipeline failed")
	if err := m.TransitionToSyncFailed(ctx, cause); err != nil {
		m.log.Warn().Err(err).Msg("could not record sync failure")
	}
}

func newSurface(hello *catalog.Hello) *Surface {
	surface := &Surface{
		Name:       "(unnamed)",
		Rotation:   utils.Value(hello.Surface.Rotation),
		PlaylistID: hello.Surface.PlaylistID,
	}
	if hello.Surface.Name != nil {
		surface.Name = *hello.Surface.Name
	}
	return surface
}

// sleep waits d, returning false if the context was cancelled first. The
// timer is always stopped; nothing keeps ticking once the wait ends.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
