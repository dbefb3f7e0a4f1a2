// Package auth owns the device's token lifecycle: device-code acquisition
// and polling, refresh-token exchange, and access-token expiry caching.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/prefs"
	"github.com/easelworks/easel/secrets"
)

// Secret store keys.
const (
	KeyRefreshToken = "auth-refresh-token"
	KeyAccessToken  = "auth-access-token"
)

const pendingErrorCode = "authorization_pending"

// Manager coordinates the secret store, the prefs store and the token
// endpoints. Safe for use from a single goroutine; the session loop is the
// only caller.
type Manager struct {
	api     catalog.API
	secrets secrets.Store
	prefs   prefs.Store
	nowFunc func() time.Time
	log     zerolog.Logger
}

// ManagerOption modifies a Manager at construction.
type ManagerOption func(*Manager)

// WithNowTime sets the clock (primarily for testing).
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = nowFunc
	}
}

// NewManager builds a Manager. All three stores are required.
func NewManager(api catalog.API, secretStore secrets.Store, prefStore prefs.Store, log zerolog.Logger, options ...ManagerOption) (*Manager, error) {
	if api == nil {
		return nil, errors.New("[NewManager] api is required")
	}
	if secretStore == nil {
		return nil, errors.New("[NewManager] secret store is required")
	}
	if prefStore == nil {
		return nil, errors.New("[NewManager] pref store is required")
	}
	m := &Manager{
		api:     api,
		secrets: secretStore,
		prefs:   prefStore,
		nowFunc: time.Now,
		log:     log.With().Str("component", "auth").Logger(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// HasRefreshToken probes the secret store. A store failure reads as "no
// token": the worst case is a redundant device-code flow.
func (m *Manager) HasRefreshToken() bool {
	ok, err := m.secrets.Has(KeyRefreshToken)
	if err != nil {
		m.log.Warn().Err(err).Msg("secret store probe failed")
		return false
	}
	return ok
}

// refreshTokenValue reads the stored refresh token.
func (m *Manager) refreshTokenValue() (string, error) {
	token, err := m.secrets.Get(KeyRefreshToken)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return "", ErrNoRefreshToken
		}
		return "", errors.Wrap(err, "[refreshTokenValue] secret store")
	}
	return token, nil
}

// CurrentAccessToken returns the cached access token if its stored expiry is
// strictly in the future. Anything else, including a missing expiry record,
// reads as expired.
func (m *Manager) CurrentAccessToken() (string, bool) {
	expiresAt, ok := m.prefs.GetTime(prefs.KeyAccessTokenExpiresAt)
	if !ok {
		m.log.Debug().Msg("no access token expiry recorded, treating as expired")
		return "", false
	}
	if !expiresAt.After(m.nowFunc()) {
		m.log.Debug().Time("expires_at", expiresAt).Msg("access token expired")
		return "", false
	}
	token, err := m.secrets.Get(KeyAccessToken)
	if err != nil {
		m.log.Warn().Err(err).Msg("access token expiry is valid but token read failed")
		return "", false
	}
	return token, true
}

// AccessToken returns a usable access token, exchanging the refresh token
// for a new one when the cached token has expired.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if token, ok := m.CurrentAccessToken(); ok {
		return token, nil
	}
	grant, err := m.RefreshAccessToken(ctx)
	if err != nil {
		return "", err
	}
	return grant.AccessToken, nil
}

// RefreshAccessToken exchanges the stored refresh token for a fresh grant
// and persists the result. A rotated refresh token, when the server sends
// one, is persisted too.
func (m *Manager) RefreshAccessToken(ctx context.Context) (*catalog.TokenGrant, error) {
	refreshToken, err := m.refreshTokenValue()
	if err != nil {
		return nil, err
	}
	grant, err := m.api.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		var tokenErr *catalog.TokenError
		if errors.As(err, &tokenErr) {
			return nil, errors.Wrapf(ErrTokenExchangeFailed, "refresh rejected: %s", tokenErr.Error())
		}
		return nil, errors.Wrap(err, "[RefreshAccessToken] token endpoint")
	}
	if grant.HasRefreshToken() {
		if err := m.secrets.Set(KeyRefreshToken, *grant.RefreshToken); err != nil {
			return nil, errors.Wrap(err, "[RefreshAccessToken] persist rotated refresh token")
		}
	}
	if err := m.storeAccessGrant(grant); err != nil {
		return nil, err
	}
	m.logIdentity(grant)
	m.log.Info().Int("expires_in", grant.ExpiresIn).Msg("access token refreshed")
	return grant, nil
}

// AcquireDeviceCode requests a new device-code challenge and resolves its
// expiry against the local clock.
func (m *Manager) AcquireDeviceCode(ctx context.Context) (*DeviceCodeChallenge, error) {
	resp, err := m.api.RequestDeviceCode(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[AcquireDeviceCode] device code endpoint")
	}
	challenge := newChallenge(resp, m.nowFunc())
	m.log.Info().
		Str("user_code", challenge.UserCode).
		Str("verification_uri", challenge.VerificationURI).
		Time("expires_at", challenge.ExpiresAt).
		Msg("device code issued")
	return challenge, nil
}

// PollDeviceCode makes one redemption attempt. pending=true means the user
// has not yet approved the code and the caller should try again after the
// challenge interval; it is a normal outcome, not an error. A grant without
// a refresh token is a protocol violation: the device cannot operate without
// one.
func (m *Manager) PollDeviceCode(ctx context.Context, challenge *DeviceCodeChallenge) (grant *catalog.TokenGrant, pending bool, err error) {
	grant, err = m.api.RedeemDeviceCode(ctx, challenge.DeviceCode)
	if err != nil {
		var tokenErr *catalog.TokenError
		if errors.As(err, &tokenErr) {
			if tokenErr.Code == pendingErrorCode {
				return nil, true, nil
			}
			return nil, false, errors.Wrapf(ErrTokenExchangeFailed, "device code rejected: %s", tokenErr.Error())
		}
		return nil, false, errors.Wrap(err, "[PollDeviceCode] token endpoint")
	}
	if !grant.HasRefreshToken() {
		return nil, false, errors.Wrap(ErrUnexpectedServerResponse, "[PollDeviceCode] grant carries no refresh token")
	}
	return grant, false, nil
}

// StoreRefreshGrant persists a device-code redemption: the refresh token
// into the secret store, the access token alongside its computed expiry.
func (m *Manager) StoreRefreshGrant(grant *catalog.TokenGrant) error {
	if !grant.HasRefreshToken() {
		return errors.Wrap(ErrUnexpectedServerResponse, "[StoreRefreshGrant] grant carries no refresh token")
	}
	if err := m.secrets.Set(KeyRefreshToken, *grant.RefreshToken); err != nil {
		return errors.Wrap(err, "[StoreRefreshGrant] persist refresh token")
	}
	if err := m.storeAccessGrant(grant); err != nil {
		return err
	}
	m.logIdentity(grant)
	return nil
}

func (m *Manager) storeAccessGrant(grant *catalog.TokenGrant) error {
	if err := m.secrets.Set(KeyAccessToken, grant.AccessToken); err != nil {
		return errors.Wrap(err, "[storeAccessGrant] persist access token")
	}
	expiresAt := m.nowFunc().Add(time.Duration(grant.ExpiresIn) * time.Second)
	if err := m.prefs.SetTime(prefs.KeyAccessTokenExpiresAt, expiresAt); err != nil {
		return errors.Wrap(err, "[storeAccessGrant] persist expiry")
	}
	return nil
}

// logIdentity surfaces who the device is logged in as, when the grant came
// with an id token. The token is never verified; claims are diagnostic only.
func (m *Manager) logIdentity(grant *catalog.TokenGrant) {
	if grant.IDToken == nil || *grant.IDToken == "" {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(*grant.IDToken, claims); err != nil {
		m.log.Debug().Err(err).Msg("id token present but unparseable")
		return
	}
	event := m.log.Debug()
	if sub, ok := claims["sub"].(string); ok {
		event = event.Str("subject", sub)
	}
	if email, ok := claims["email"].(string); ok {
		event = event.Str("email", email)
	}
	event.Msg("token identity (unverified)")
}
