package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// API is the catalog and auth surface the sync core consumes. Implemented by
// *Client; fakes live in catalogfakes.
type API interface {
	RequestDeviceCode(ctx context.Context) (*DeviceCodeResponse, error)
	RedeemDeviceCode(ctx context.Context, deviceCode string) (*TokenGrant, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
	RegisterSurface(ctx context.Context, accessToken string) (*Registration, error)
	Hello(ctx context.Context, accessToken, surfaceID string) (*Hello, error)
	Playlist(ctx context.Context, accessToken, playlistID string) (*PlaylistDocument, error)
	Asset(ctx context.Context, accessToken, assetID string) (*AssetInfo, error)
	DownloadAsset(ctx context.Context, signedURL, destPath string) error
}

var _ API = (*Client)(nil)

const (
	defaultUserAgent = "easel/0.1"
	requestTimeout   = 30 * time.Second

	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	refreshGrantType    = "refresh_token"
)

// Options configure a Client. BaseURL, DeviceCodeEndpoint, TokenEndpoint and
// ClientID are required.
type Options struct {
	BaseURL            string
	DeviceCodeEndpoint string
	TokenEndpoint      string
	ClientID           string
	Scope              string
	Audience           string
	HTTPClient         *http.Client
	UserAgent          string

	// SurfaceOS is the operating-system descriptor sent with surface
	// registration. Defaults to "linux".
	SurfaceOS string
}

// Client talks to the catalog HTTP API and the OAuth endpoints.
type Client struct {
	baseURL            *url.URL
	deviceCodeEndpoint string
	tokenEndpoint      string
	clientID           string
	scope              string
	audience           string
	http               *http.Client
	userAgent          string
	surfaceOS          string
	log                zerolog.Logger
}

// NewClient builds a Client from the provided options.
func NewClient(opts Options, log zerolog.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("[NewClient] BaseURL is required")
	}
	if opts.DeviceCodeEndpoint == "" {
		return nil, errors.New("[NewClient] DeviceCodeEndpoint is required")
	}
	if opts.TokenEndpoint == "" {
		return nil, errors.New("[NewClient] TokenEndpoint is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("[NewClient] ClientID is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewClient] parse BaseURL")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	surfaceOS := opts.SurfaceOS
	if surfaceOS == "" {
		surfaceOS = "linux"
	}
	return &Client{
		baseURL:            base,
		deviceCodeEndpoint: opts.DeviceCodeEndpoint,
		tokenEndpoint:      opts.TokenEndpoint,
		clientID:           opts.ClientID,
		scope:              opts.Scope,
		audience:           opts.Audience,
		http:               httpClient,
		userAgent:          userAgent,
		surfaceOS:          surfaceOS,
		log:                log.With().Str("component", "catalog").Logger(),
	}, nil
}

// RequestDeviceCode asks the auth server for a fresh device-code challenge.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCodeResponse, error) {
	body := map[string]string{
		"client_id": c.clientID,
		"scope":     c.scope,
		"audience":  c.audience,
	}
	var payload DeviceCodeResponse
	if err := c.postJSON(ctx, c.deviceCodeEndpoint, "", body, &payload); err != nil {
		return nil, errors.Wrap(err, "[RequestDeviceCode] device code endpoint")
	}
	return &payload, nil
}

// RedeemDeviceCode performs a single poll of the token endpoint with the
// device code. A pending authorization comes back as a *TokenError with the
// "authorization_pending" code; the caller decides whether that is terminal.
func (c *Client) RedeemDeviceCode(ctx context.Context, deviceCode string) (*TokenGrant, error) {
	body := map[string]string{
		"grant_type":  deviceCodeGrantType,
		"client_id":   c.clientID,
		"device_code": deviceCode,
	}
	return c.tokenRequest(ctx, body)
}

// RefreshAccessToken exchanges a refresh token for a new access token.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	body := map[string]string{
		"grant_type":    refreshGrantType,
		"client_id":     c.clientID,
		"refresh_token": refreshToken,
	}
	return c.tokenRequest(ctx, body)
}

// tokenWire is the superset of every shape the token endpoint returns. The
// decode is driven by which discriminating field is present: "error" wins,
// then "access_token"; the two never coexist in a valid response.
type tokenWire struct {
	Error            *string `json:"error"`
	ErrorDescription string  `json:"error_description"`
	TokenGrant
}

func (c *Client) tokenRequest(ctx context.Context, body map[string]string) (*TokenGrant, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.tokenEndpoint, "", body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[tokenRequest] transport")
	}
	defer resp.Body.Close()

	var wire tokenWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.Wrap(err, "[tokenRequest] decode response")
	}
	if wire.Error != nil {
		return nil, &TokenError{Code: *wire.Error, Description: wire.ErrorDescription}
	}
	if wire.AccessToken == "" {
		return nil, errors.Wrap(ErrUnexpectedResponse, "[tokenRequest] no error and no access_token")
	}
	grant := wire.TokenGrant
	return &grant, nil
}

// RegisterSurface registers this device as a new surface and returns the
// identifier the backend assigned.
func (c *Client) RegisterSurface(ctx context.Context, accessToken string) (*Registration, error) {
	body := map[string]string{"os": c.surfaceOS}
	var payload Registration
	if err := c.postJSON(ctx, c.endpoint("/surface/register"), accessToken, body, &payload); err != nil {
		return nil, errors.Wrap(err, "[RegisterSurface] register endpoint")
	}
	c.log.Info().Str("surface_id", payload.ID).Str("owner", payload.Owner).Msg("surface registered")
	return &payload, nil
}

// Hello fetches the surface identity document.
func (c *Client) Hello(ctx context.Context, accessToken, surfaceID string) (*Hello, error) {
	var payload Hello
	if err := c.getJSON(ctx, c.endpoint("/surface/"+surfaceID+"/hello"), accessToken, &payload, nil); err != nil {
		return nil, errors.Wrap(err, "[Hello] hello endpoint")
	}
	return &payload, nil
}

// playlistWire matches the playlist endpoint body; the playlist itself is
// nested one level down.
type playlistWire struct {
	Playlist Playlist `json:"playlist"`
}

// Playlist fetches a playlist and captures the ETag header it arrived with.
func (c *Client) Playlist(ctx context.Context, accessToken, playlistID string) (*PlaylistDocument, error) {
	var wire playlistWire
	var etag string
	capture := func(resp *http.Response) { etag = resp.Header.Get("Etag") }
	if err := c.getJSON(ctx, c.endpoint("/playlist/"+playlistID), accessToken, &wire, capture); err != nil {
		return nil, errors.Wrap(err, "[Playlist] playlist endpoint")
	}
	c.log.Debug().Str("playlist_id", playlistID).Str("etag", etag).
		Int("scenes", len(wire.Playlist.Scenes)).Msg("playlist fetched")
	return &PlaylistDocument{ETag: etag, Playlist: wire.Playlist}, nil
}

// Asset fetches metadata and a signed download URL for one asset. A 403 maps
// to ErrForbidden.
func (c *Client) Asset(ctx context.Context, accessToken, assetID string) (*AssetInfo, error) {
	var payload AssetInfo
	if err := c.getJSON(ctx, c.endpoint("/asset/"+assetID), accessToken, &payload, nil); err != nil {
		return nil, errors.Wrapf(err, "[Asset] asset %s", assetID)
	}
	return &payload, nil
}

// DownloadAsset streams a signed URL to destPath. The signed URL carries its
// own authorization, so no bearer header is sent. Cancellation is checked
// before the request, after the response headers, and after the transfer; a
// failed or cancelled download removes destPath.
func (c *Client) DownloadAsset(ctx context.Context, signedURL, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return errors.Wrap(err, "[DownloadAsset] build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "[DownloadAsset] transport")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return errors.Wrap(ErrForbidden, "[DownloadAsset] signed URL rejected")
	case resp.StatusCode != http.StatusOK:
		return &StatusError{StatusCode: resp.StatusCode}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "[DownloadAsset] create destination")
	}
	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(destPath)
		return errors.Wrap(err, "[DownloadAsset] transfer")
	}
	c.log.Debug().Int64("bytes", written).Str("dest", destPath).Msg("asset downloaded")
	return nil
}

func (c *Client) endpoint(path string) string {
	ref := *c.baseURL
	ref.Path = strings.TrimSuffix(ref.Path, "/") + path
	return ref.String()
}

func (c *Client) newJSONRequest(ctx context.Context, method, endpoint, accessToken string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint, accessToken string, body, out any) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, endpoint, accessToken, body)
	if err != nil {
		return err
	}
	return c.do(req, out, nil)
}

func (c *Client) getJSON(ctx context.Context, endpoint, accessToken string, out any, inspect func(*http.Response)) error {
	req, err := c.newJSONRequest(ctx, http.MethodGet, endpoint, accessToken, nil)
	if err != nil {
		return err
	}
	return c.do(req, out, inspect)
}

// do executes the request and decodes a 2xx body into out. Non-2xx bodies
// are decoded as the backend's error payload; a 403 additionally wraps
// ErrForbidden so callers can branch on it.
func (c *Client) do(req *http.Request, out any, inspect func(*http.Response)) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "transport")
	}
	defer resp.Body.Close()

	if inspect != nil {
		inspect(resp)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serverErr := decodeServerError(resp)
		if resp.StatusCode == http.StatusForbidden {
			return errors.Wrap(ErrForbidden, serverErr.Error())
		}
		return serverErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(ErrUnexpectedResponse, err.Error())
	}
	return nil
}

func decodeServerError(resp *http.Response) error {
	var wire struct {
		Error   *string `json:"error"`
		Message *string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil || (wire.Error == nil && wire.Message == nil) {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	serverErr := &ServerError{}
	if wire.Error != nil {
		serverErr.Code = *wire.Error
	}
	if wire.Message != nil {
		serverErr.Message = *wire.Message
	}
	return serverErr
}

