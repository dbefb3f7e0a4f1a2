package session

import (
	"github.com/easelworks/easel/auth"
	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/download"
	"github.com/easelworks/easel/playback"
)

// Kind identifies which session state is active. Exactly one state is live
// at any time; the machine's transition methods are the only mutators.
type Kind int

const (
	KindStartup Kind = iota
	KindDeviceCodeWaiting
	KindDeviceCodeFailed
	KindDeviceCodeClaimed
	KindHasToken
	KindRegisteringSurface
	KindLoadingSurfaceInfo
	KindNoPlaylist
	KindLoadingPlaylist
	KindDownloadingAssets
	KindPlaying
	KindSyncFailed
)

func (k Kind) String() string {
	switch k {
	case KindStartup:
		return "Startup"
	case KindDeviceCodeWaiting:
		return "DeviceCodeWaiting"
	case KindDeviceCodeFailed:
		return "DeviceCodeFailed"
	case KindDeviceCodeClaimed:
		return "DeviceCodeClaimed"
	case KindHasToken:
		return "HasToken"
	case KindRegisteringSurface:
		return "RegisteringSurface"
	case KindLoadingSurfaceInfo:
		return "LoadingSurfaceInfo"
	case KindNoPlaylist:
		return "NoPlaylist"
	case KindLoadingPlaylist:
		return "LoadingPlaylist"
	case KindDownloadingAssets:
		return "DownloadingAssets"
	case KindPlaying:
		return "Playing"
	case KindSyncFailed:
		return "SyncFailed"
	default:
		return "Unknown"
	}
}

// Surface is the display identity resolved from the hello call. Immutable.
type Surface struct {
	Name       string
	Rotation   int
	PlaylistID *string
}

// State is the tagged session variant. Only the fields relevant to Kind are
// populated; the rest are zero. Snapshots handed to the presentation layer
// are read-only views.
type State struct {
	Kind Kind

	// Challenge is set in DeviceCodeWaiting.
	Challenge *auth.DeviceCodeChallenge

	// Surface is set from NoPlaylist onwards.
	Surface *Surface

	// PlaylistID and ETag are set from LoadingPlaylist onwards.
	PlaylistID string
	ETag       string

	// Playlist is set from DownloadingAssets onwards.
	Playlist *catalog.Playlist

	// Queue is the handle resolving this playlist's assets, set in
	// DownloadingAssets.
	Queue *download.Queue

	// Assets and Scheduler are set in Playing.
	Assets    []download.CachedAsset
	Scheduler *playback.Scheduler

	// Err carries the failure behind DeviceCodeFailed or SyncFailed.
	Err error
}
