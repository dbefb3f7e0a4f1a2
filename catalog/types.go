package catalog

// DeviceCodeResponse is the payload returned by the device-code issuance
// endpoint, as defined in RFC 8628 section 3.2.
type DeviceCodeResponse struct {
	// DeviceCode is the long opaque code the client polls the token
	// endpoint with. Never shown to the user.
	DeviceCode string `json:"device_code"`

	// UserCode is the short code the user types at the verification URI.
	// Example: "AAAA-BBBB"
	UserCode string `json:"user_code"`

	// VerificationURI is where the user goes to enter the user code.
	VerificationURI string `json:"verification_uri"`

	// VerificationURIComplete embeds the user code in the URI so the user
	// can skip typing it (e.g. when rendered as a QR code).
	VerificationURIComplete string `json:"verification_uri_complete"`

	// ExpiresIn is the lifetime in seconds of the device and user codes.
	ExpiresIn int `json:"expires_in"`

	// Interval is the minimum number of seconds the client must wait
	// between token endpoint polls.
	Interval int `json:"interval"`
}

// TokenGrant is a successful response from the token endpoint. The same
// endpoint serves the device-code redemption and the refresh-token grant;
// the two differ only in whether RefreshToken is present.
type TokenGrant struct {
	// AccessToken is the bearer token for authenticated catalog calls.
	AccessToken string `json:"access_token"`

	// RefreshToken is only present on a device-code redemption (the
	// "offline_access" scope). Absent on a refresh-token exchange.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// IDToken is an optional OpenID Connect identity token. The client
	// never verifies it; it is used for diagnostic logging only.
	IDToken *string `json:"id_token,omitempty"`

	// TokenType is expected to be "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds. The client turns
	// this into an absolute expiry at receipt time.
	ExpiresIn int `json:"expires_in"`
}

// HasRefreshToken reports whether this grant carries a refresh token.
func (g *TokenGrant) HasRefreshToken() bool {
	return g.RefreshToken != nil && *g.RefreshToken != ""
}

// Registration is returned when a new surface is registered.
type Registration struct {
	// ID is the stable surface identifier assigned by the backend. The
	// client persists it and reuses it across restarts.
	ID string `json:"id"`

	// Owner is the account the surface was registered under.
	Owner string `json:"owner"`
}

// Hello is the surface identity document returned by the hello endpoint.
type Hello struct {
	Surface HelloSurface `json:"surface"`
}

// HelloSurface describes the display this client is driving. All fields are
// optional on the wire; the session layer substitutes defaults.
type HelloSurface struct {
	// Name is the human-assigned display name.
	Name *string `json:"Name,omitempty"`

	// Rotation is the mounting rotation in degrees: 0, 90, 180 or 270.
	Rotation *int `json:"Rotation,omitempty"`

	// PlaylistID is the playlist currently assigned to this surface, if
	// any. Absent means the surface has nothing to show.
	PlaylistID *string `json:"PlaylistId,omitempty"`
}

// Playlist is an ordered show of timed scenes.
type Playlist struct {
	Name   string  `json:"Name"`
	Scenes []Scene `json:"Scenes"`
}

// Scene displays its assets for Duration seconds before the scheduler moves
// to the next scene.
type Scene struct {
	// Duration is the scene display time in seconds.
	Duration int `json:"Duration"`

	Assets []SceneAsset `json:"Assets"`
}

// SceneAsset references an asset by identifier; the binary content is
// resolved separately through the asset endpoint.
type SceneAsset struct {
	AssetID string `json:"AssetId"`
}

// PlaylistDocument pairs a fetched playlist with the ETag header that came
// with it, kept for future conditional refresh.
type PlaylistDocument struct {
	ETag     string
	Playlist Playlist
}

// AssetIDs returns the deduplicated union of asset identifiers referenced by
// the playlist's scenes, in first-seen order.
func (p Playlist) AssetIDs() []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, scene := range p.Scenes {
		for _, asset := range scene.Assets {
			if _, ok := seen[asset.AssetID]; ok {
				continue
			}
			seen[asset.AssetID] = struct{}{}
			ids = append(ids, asset.AssetID)
		}
	}
	return ids
}

// AssetMeta is the descriptive metadata for a single asset.
type AssetMeta struct {
	Name     string  `json:"Name"`
	Status   string  `json:"Status"`
	Artist   *string `json:"Artist,omitempty"`
	Source   *string `json:"Source,omitempty"`
	Notes    *string `json:"Notes,omitempty"`
	FileSize *int64  `json:"FileSize,omitempty"`
}

// AssetInfo is the asset endpoint response: metadata plus a time-limited
// pre-authorized URL for the binary content.
type AssetInfo struct {
	Asset AssetMeta `json:"asset"`

	// SignedURL is fetched without a bearer token; authorization is baked
	// into the URL itself and expires server-side.
	SignedURL string `json:"signedURL"`
}
