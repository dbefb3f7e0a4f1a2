package session_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/easelworks/easel/auth"
	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/catalog/catalogfakes"
	"github.com/easelworks/easel/download"
	"github.com/easelworks/easel/internal/utils"
	"github.com/easelworks/easel/prefs"
	"github.com/easelworks/easel/secrets/secretsfakes"
	"github.com/easelworks/easel/session"
)

type machineFixture struct {
	api      *catalogfakes.FakeAPI
	secrets  *secretsfakes.FakeStore
	prefs    prefs.Store
	machine  *session.Machine
	cacheDir string
}

func setupMachine(t *testing.T) *machineFixture {
	t.Helper()

	api := catalogfakes.NewFakeAPI()
	secretStore := secretsfakes.NewFakeStore()
	prefStore, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.toml"))
	require.NoError(t, err)

	authManager, err := auth.NewManager(api, secretStore, prefStore, zerolog.Nop())
	require.NoError(t, err)
	queue, err := download.NewQueue(api, 2, zerolog.Nop())
	require.NoError(t, err)

	cacheDir := t.TempDir()
	machine, err := session.NewMachine(authManager, api, queue, prefStore, cacheDir, zerolog.Nop())
	require.NoError(t, err)
	machine.Start()
	t.Cleanup(machine.Close)

	return &machineFixture{
		api:      api,
		secrets:  secretStore,
		prefs:    prefStore,
		machine:  machine,
		cacheDir: cacheDir,
	}
}

// configureHappyPath scripts the catalog so a pipeline run reaches playback:
// one registered surface, one playlist of one scene, one downloadable asset.
func (f *machineFixture) configureHappyPath() {
	f.api.Registration = &catalog.Registration{ID: "surface-1", Owner: "owner-1"}
	f.api.HelloResponse = &catalog.Hello{Surface: catalog.HelloSurface{
		Name:       utils.Ptr("Lobby"),
		Rotation:   utils.Ptr(90),
		PlaylistID: utils.Ptr("pl-1"),
	}}
	f.api.PlaylistDoc = &catalog.PlaylistDocument{
		ETag: `"v1"`,
		Playlist: catalog.Playlist{
			Name: "Gallery",
			Scenes: []catalog.Scene{
				{Duration: 3600, Assets: []catalog.SceneAsset{{AssetID: "a1"}}},
			},
		},
	}
	f.api.Assets["a1"] = &catalog.AssetInfo{
		Asset:     catalog.AssetMeta{Name: "Asset a1", Status: "ready"},
		SignedURL: "https://cdn.example.test/a1",
	}
	f.api.DownloadContent = []byte{0x89, 0x50, 0x4E, 0x47}
}

func (f *machineFixture) storeRefreshToken(t *testing.T) {
	t.Helper()
	require.NoError(t, f.secrets.Set(auth.KeyRefreshToken, "rt"))
	f.api.RefreshGrant = &catalog.TokenGrant{AccessToken: "at", TokenType: "Bearer", ExpiresIn: 3600}
}

func requireEventualState(t *testing.T, machine *session.Machine, kind session.Kind) session.State {
	t.Helper()
	require.Eventually(t, func() bool {
		return machine.Snapshot().Kind == kind
	}, 5*time.Second, 10*time.Millisecond, "machine never reached %s", kind)
	return machine.Snapshot()
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	f := setupMachine(t)

	doc := &catalog.PlaylistDocument{Playlist: catalog.Playlist{Name: "Gallery"}}
	err := f.machine.TransitionToDownloadingAssets(context.Background(), doc)
	require.ErrorIs(t, err, session.ErrInvalidStateTransition)

	state := f.machine.Snapshot()
	require.Equal(t, session.KindStartup, state.Kind)
	require.Nil(t, state.Playlist)
	require.Empty(t, state.ETag)
}

func TestDeviceCodeFlowPendingThenGrant(t *testing.T) {
	f := setupMachine(t)
	f.configureHappyPath()

	// Interval 0 keeps the poll loop fast; three pending polls, then the
	// user approves and the fourth yields a refresh grant.
	f.api.DeviceCodeResponse = &catalog.DeviceCodeResponse{
		DeviceCode:      "dev-1",
		UserCode:        "AAAA-BBBB",
		VerificationURI: "https://example.test/activate",
		ExpiresIn:       900,
	}
	pending := catalogfakes.RedeemResult{Err: &catalog.TokenError{Code: "authorization_pending"}}
	f.api.RedeemResponses = []catalogfakes.RedeemResult{
		pending, pending, pending,
		{Grant: &catalog.TokenGrant{
			AccessToken:  "at",
			RefreshToken: utils.Ptr("rt"),
			TokenType:    "Bearer",
			ExpiresIn:    900,
		}},
	}

	f.machine.Resume()
	requireEventualState(t, f.machine, session.KindPlaying)

	require.Equal(t, 4, f.api.RedeemCalls, "polling must stop at the first grant")
	refreshToken, err := f.secrets.Get(auth.KeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "rt", refreshToken, "the refresh grant must be persisted")
}

func TestExpiredChallengeIsReacquired(t *testing.T) {
	f := setupMachine(t)
	f.configureHappyPath()

	// ExpiresIn 0 makes the challenge stale the moment it is issued, so the
	// first pending poll forces a fresh acquisition before polling resumes.
	f.api.DeviceCodeResponse = &catalog.DeviceCodeResponse{
		DeviceCode:      "dev-1",
		UserCode:        "AAAA-BBBB",
		VerificationURI: "https://example.test/activate",
		ExpiresIn:       0,
	}
	f.api.RedeemResponses = []catalogfakes.RedeemResult{
		{Err: &catalog.TokenError{Code: "authorization_pending"}},
		{Grant: &catalog.TokenGrant{
			AccessToken:  "at",
			RefreshToken: utils.Ptr("rt"),
			TokenType:    "Bearer",
			ExpiresIn:    900,
		}},
	}

	f.machine.Resume()
	requireEventualState(t, f.machine, session.KindPlaying)

	require.Equal(t, 2, f.api.RequestDeviceCodeCalls, "a stale challenge must be reacquired")
	require.Equal(t, 2, f.api.RedeemCalls, "polling must continue against the fresh challenge")
}

func TestSuspendDuringDeviceCodeWaitStopsPolling(t *testing.T) {
	f := setupMachine(t)
	f.api.DeviceCodeResponse = &catalog.DeviceCodeResponse{
		DeviceCode:      "dev-1",
		UserCode:        "AAAA-BBBB",
		VerificationURI: "https://example.test/activate",
		ExpiresIn:       900,
		Interval:        1,
	}
	f.api.RedeemResponses = []catalogfakes.RedeemResult{
		{Err: &catalog.TokenError{Code: "authorization_pending"}},
	}

	f.machine.Resume()
	requireEventualState(t, f.machine, session.KindDeviceCodeWaiting)

	f.machine.Suspend()
	require.Equal(t, session.KindStartup, f.machine.Snapshot().Kind)

	// Two poll intervals pass; a live wait loop would have redeemed twice
	// more in that window.
	polled := f.api.RedeemCallCount()
	time.Sleep(2500 * time.Millisecond)
	require.Equal(t, polled, f.api.RedeemCallCount(), "no poll may fire after suspend")
}

func TestHardPollFailureEntersDeviceCodeFailed(t *testing.T) {
	f := setupMachine(t)
	f.api.DeviceCodeResponse = &catalog.DeviceCodeResponse{
		DeviceCode: "dev-1",
		UserCode:   "AAAA-BBBB",
		ExpiresIn:  900,
	}
	f.api.RedeemResponses = []catalogfakes.RedeemResult{
		{Err: &catalog.TokenError{Code: "access_denied"}},
	}

	f.machine.Resume()
	state := requireEventualState(t, f.machine, session.KindDeviceCodeFailed)
	require.ErrorIs(t, state.Err, auth.ErrTokenExchangeFailed)
	require.Equal(t, 1, f.api.RedeemCalls)
}

func TestResumeWithPersistedTokenSkipsDeviceFlow(t *testing.T) {
	f := setupMachine(t)
	f.configureHappyPath()
	f.storeRefreshToken(t)

	f.machine.Resume()
	state := requireEventualState(t, f.machine, session.KindPlaying)

	require.Zero(t, f.api.RequestDeviceCodeCalls, "a persisted refresh token must skip the device flow")
	require.Equal(t, 1, f.api.RegisterCalls)
	surfaceID, ok := f.prefs.GetString(prefs.KeySurfaceID)
	require.True(t, ok)
	require.Equal(t, "surface-1", surfaceID)

	require.NotNil(t, state.Surface)
	require.Equal(t, "Lobby", state.Surface.Name)
	require.Equal(t, 90, state.Surface.Rotation)
	require.Equal(t, `"v1"`, state.ETag)
	require.Len(t, state.Assets, 1)
	require.NotNil(t, state.Scheduler)
	require.Equal(t, 0, state.Scheduler.SceneIndex())
}

func TestResumeReusesPersistedSurfaceID(t *testing.T) {
	f := setupMachine(t)
	f.configureHappyPath()
	f.storeRefreshToken(t)
	require.NoError(t, f.prefs.SetString(prefs.KeySurfaceID, "surface-known"))

	f.machine.Resume()
	requireEventualState(t, f.machine, session.KindPlaying)
	require.Zero(t, f.api.RegisterCalls, "a persisted surface id must not be re-registered")
}

func TestUnassignedSurfaceEntersNoPlaylist(t *testing.T) {
	f := setupMachine(t)
	f.storeRefreshToken(t)
	f.api.Registration = &catalog.Registration{ID: "surface-1"}
	f.api.HelloResponse = &catalog.Hello{Surface: catalog.HelloSurface{}}

	f.machine.Resume()
	state := requireEventualState(t, f.machine, session.KindNoPlaylist)
	require.NotNil(t, state.Surface)
	require.Equal(t, "(unnamed)", state.Surface.Name)
	require.Nil(t, state.Surface.PlaylistID)
	require.Zero(t, f.api.PlaylistCalls)
}

func TestHelloFailureEntersSyncFailed(t *testing.T) {
	f := setupMachine(t)
	f.storeRefreshToken(t)
	f.api.Registration = &catalog.Registration{ID: "surface-1"}
	f.api.HelloErr = &catalog.ServerError{Code: "internal", Message: "boom"}

	f.machine.Resume()
	state := requireEventualState(t, f.machine, session.KindSyncFailed)
	require.Error(t, state.Err)
	var serverErr *catalog.ServerError
	require.ErrorAs(t, state.Err, &serverErr)
}

func TestForbiddenAssetFailsSync(t *testing.T) {
	f := setupMachine(t)
	f.configureHappyPath()
	f.storeRefreshToken(t)
	f.api.AssetErr["a1"] = catalog.ErrForbidden

	f.machine.Resume()
	state := requireEventualState(t, f.machine, session.KindSyncFailed)
	require.ErrorIs(t, state.Err, catalog.ErrForbidden)
}

func TestSuspendResetsToStartup(t *testing.T) {
	f := setupMachine(t)
	f.configureHappyPath()
	f.storeRefreshToken(t)

	f.machine.Resume()
	requireEventualState(t, f.machine, session.KindPlaying)

	f.machine.Suspend()
	state := f.machine.Snapshot()
	require.Equal(t, session.KindStartup, state.Kind)
	require.Nil(t, state.Scheduler)
	require.Nil(t, state.Playlist)
}

func TestResumeAfterSuspendReplaysFromCache(t *testing.T) {
	f := setupMachine(t)
	f.configureHappyPath()
	f.storeRefreshToken(t)

	f.machine.Resume()
	requireEventualState(t, f.machine, session.KindPlaying)
	f.machine.Suspend()

	f.machine.Resume()
	requireEventualState(t, f.machine, session.KindPlaying)
	require.Equal(t, 1, f.api.DownloadCalls["https://cdn.example.test/a1"],
		"the second pass must resolve the asset from cache")
}
