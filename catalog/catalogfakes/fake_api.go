package catalogfakes

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/easelworks/easel/catalog"
)

var _ catalog.API = (*FakeAPI)(nil)

// FakeAPI is an in-memory catalog.API for tests. Responses are configured by
// assigning the struct fields; per-method call counts are recorded so tests
// can assert on traffic.
type FakeAPI struct {
	lock sync.Mutex

	DeviceCodeResponse *catalog.DeviceCodeResponse
	DeviceCodeErr      error

	// RedeemResponses is consumed front to back, one entry per poll. When
	// exhausted the last entry repeats.
	RedeemResponses []RedeemResult

	RefreshGrant *catalog.TokenGrant
	RefreshErr   error

	Registration    *catalog.Registration
	RegistrationErr error

	HelloResponse *catalog.Hello
	HelloErr      error

	PlaylistDoc *catalog.PlaylistDocument
	PlaylistErr error

	Assets   map[string]*catalog.AssetInfo
	AssetErr map[string]error

	// DownloadContent is written to destPath on DownloadAsset.
	DownloadContent []byte
	DownloadErr     error

	// DownloadHook, when set, runs in the middle of each DownloadAsset
	// call. Lets tests observe or stall in-flight transfers.
	DownloadHook func(ctx context.Context, signedURL string) error

	RequestDeviceCodeCalls int
	RedeemCalls            int
	RefreshCalls           int
	RegisterCalls          int
	HelloCalls             int
	PlaylistCalls          int
	AssetCalls             map[string]int
	DownloadCalls          map[string]int
}

// RedeemResult is one scripted outcome of a device-code poll.
type RedeemResult struct {
	Grant *catalog.TokenGrant
	Err   error
}

func NewFakeAPI() *FakeAPI {
	return &FakeAPI{
		Assets:        make(map[string]*catalog.AssetInfo),
		AssetErr:      make(map[string]error),
		AssetCalls:    make(map[string]int),
		DownloadCalls: make(map[string]int),
	}
}

func (f *FakeAPI) RequestDeviceCode(_ context.Context) (*catalog.DeviceCodeResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.RequestDeviceCodeCalls++
	if f.DeviceCodeErr != nil {
		return nil, f.DeviceCodeErr
	}
	if f.DeviceCodeResponse == nil {
		return nil, errors.New("no device code response configured")
	}
	return f.DeviceCodeResponse, nil
}

func (f *FakeAPI) RedeemDeviceCode(_ context.Context, _ string) (*catalog.TokenGrant, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.RedeemResponses) == 0 {
		return nil, errors.New("no redeem responses configured")
	}
	idx := f.RedeemCalls
	if idx >= len(f.RedeemResponses) {
		idx = len(f.RedeemResponses) - 1
	}
	f.RedeemCalls++
	result := f.RedeemResponses[idx]
	return result.Grant, result.Err
}

// RedeemCallCount reads the poll counter under the lock, for tests that
// sample it while the machine may still be running.
func (f *FakeAPI) RedeemCallCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.RedeemCalls
}

func (f *FakeAPI) RefreshAccessToken(_ context.Context, _ string) (*catalog.TokenGrant, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.RefreshCalls++
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	if f.RefreshGrant == nil {
		return nil, errors.New("no refresh grant configured")
	}
	return f.RefreshGrant, nil
}

func (f *FakeAPI) RegisterSurface(_ context.Context, _ string) (*catalog.Registration, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.RegisterCalls++
	if f.RegistrationErr != nil {
		return nil, f.RegistrationErr
	}
	if f.Registration == nil {
		return nil, errors.New("no registration configured")
	}
	return f.Registration, nil
}

func (f *FakeAPI) Hello(_ context.Context, _, _ string) (*catalog.Hello, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.HelloCalls++
	if f.HelloErr != nil {
		return nil, f.HelloErr
	}
	if f.HelloResponse == nil {
		return nil, errors.New("no hello response configured")
	}
	return f.HelloResponse, nil
}

func (f *FakeAPI) Playlist(_ context.Context, _, _ string) (*catalog.PlaylistDocument, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.PlaylistCalls++
	if f.PlaylistErr != nil {
		return nil, f.PlaylistErr
	}
	if f.PlaylistDoc == nil {
		return nil, errors.New("no playlist configured")
	}
	return f.PlaylistDoc, nil
}

func (f *FakeAPI) Asset(_ context.Context, _, assetID string) (*catalog.AssetInfo, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.AssetCalls[assetID]++
	if err, ok := f.AssetErr[assetID]; ok {
		return nil, err
	}
	info, ok := f.Assets[assetID]
	if !ok {
		return nil, errors.Errorf("no asset configured for %s", assetID)
	}
	return info, nil
}

func (f *FakeAPI) DownloadAsset(ctx context.Context, signedURL, destPath string) error {
	f.lock.Lock()
	f.DownloadCalls[signedURL]++
	content := f.DownloadContent
	downloadErr := f.DownloadErr
	hook := f.DownloadHook
	f.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx, signedURL); err != nil {
			return err
		}
	}
	if downloadErr != nil {
		return downloadErr
	}
	return os.WriteFile(destPath, content, 0o644)
}
