package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/easelworks/easel/catalog"
)

func newTestClient(t *testing.T, handler http.Handler) (*catalog.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := catalog.NewClient(catalog.Options{
		BaseURL:            server.URL,
		DeviceCodeEndpoint: server.URL + "/oauth/device/code",
		TokenEndpoint:      server.URL + "/oauth/token",
		ClientID:           "client-1",
		Scope:              "surface offline_access",
		Audience:           "https://example.test/",
	}, zerolog.Nop())
	require.NoError(t, err)
	return client, server
}

func TestRequestDeviceCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/device/code", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "client-1", body["client_id"])

		json.NewEncoder(w).Encode(map[string]any{
			"device_code":               "dev-123",
			"user_code":                 "AAAA-BBBB",
			"verification_uri":          "https://example.test/activate",
			"verification_uri_complete": "https://example.test/activate?user_code=AAAA-BBBB",
			"expires_in":                900,
			"interval":                  5,
		})
	})
	client, _ := newTestClient(t, mux)

	resp, err := client.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, "dev-123", resp.DeviceCode)
	require.Equal(t, "AAAA-BBBB", resp.UserCode)
	require.Equal(t, 900, resp.ExpiresIn)
	require.Equal(t, 5, resp.Interval)
}

func TestRedeemDeviceCodeDecodesByDiscriminant(t *testing.T) {
	tests := []struct {
		name  string
		body  map[string]any
		check func(t *testing.T, grant *catalog.TokenGrant, err error)
	}{
		{
			name: "pending error payload",
			body: map[string]any{"error": "authorization_pending", "error_description": "try later"},
			check: func(t *testing.T, _ *catalog.TokenGrant, err error) {
				var tokenErr *catalog.TokenError
				require.ErrorAs(t, err, &tokenErr)
				require.Equal(t, "authorization_pending", tokenErr.Code)
			},
		},
		{
			name: "refresh grant",
			body: map[string]any{
				"access_token":  "at",
				"refresh_token": "rt",
				"token_type":    "Bearer",
				"expires_in":    86400,
			},
			check: func(t *testing.T, grant *catalog.TokenGrant, err error) {
				require.NoError(t, err)
				require.True(t, grant.HasRefreshToken())
				require.Equal(t, "at", grant.AccessToken)
				require.Equal(t, "rt", *grant.RefreshToken)
			},
		},
		{
			name: "access-only grant",
			body: map[string]any{"access_token": "at", "token_type": "Bearer", "expires_in": 900},
			check: func(t *testing.T, grant *catalog.TokenGrant, err error) {
				require.NoError(t, err)
				require.False(t, grant.HasRefreshToken())
			},
		},
		{
			name: "neither discriminant",
			body: map[string]any{"scope": "surface"},
			check: func(t *testing.T, _ *catalog.TokenGrant, err error) {
				require.ErrorIs(t, err, catalog.ErrUnexpectedResponse)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.body)
			})
			client, _ := newTestClient(t, mux)

			grant, err := client.RedeemDeviceCode(context.Background(), "dev-123")
			tt.check(t, grant, err)
		})
	}
}

func TestPlaylistCapturesETag(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist/pl-1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Etag", `"v42"`)
		json.NewEncoder(w).Encode(map[string]any{
			"playlist": map[string]any{
				"Name": "Gallery",
				"Scenes": []map[string]any{
					{"Duration": 10, "Assets": []map[string]any{{"AssetId": "a1"}}},
					{"Duration": 5, "Assets": []map[string]any{{"AssetId": "a1"}, {"AssetId": "a2"}}},
				},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	doc, err := client.Playlist(context.Background(), "tok", "pl-1")
	require.NoError(t, err)
	require.Equal(t, `"v42"`, doc.ETag)
	require.Equal(t, "Gallery", doc.Playlist.Name)
	require.Equal(t, []string{"a1", "a2"}, doc.Playlist.AssetIDs())
}

func TestAssetForbidden(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/asset/a1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"error": "forbidden", "message": "not yours"})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.Asset(context.Background(), "tok", "a1")
	require.ErrorIs(t, err, catalog.ErrForbidden)
}

func TestAssetServerErrorPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/asset/a1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "bad_request", "message": "nope"})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.Asset(context.Background(), "tok", "a1")
	var serverErr *catalog.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "bad_request", serverErr.Code)
	require.Equal(t, "nope", serverErr.Message)
}

func TestDownloadAssetWritesDestination(t *testing.T) {
	content := []byte{0x89, 0x50, 0x4E, 0x47}
	mux := http.NewServeMux()
	mux.HandleFunc("/signed/a1", func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"), "signed URLs must not carry a bearer token")
		w.Write(content)
	})
	client, server := newTestClient(t, mux)

	dest := filepath.Join(t.TempDir(), "download.tmp")
	err := client.DownloadAsset(context.Background(), server.URL+"/signed/a1", dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestDownloadAssetStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"forbidden", http.StatusForbidden, func(t *testing.T, err error) {
			require.ErrorIs(t, err, catalog.ErrForbidden)
		}},
		{"not found", http.StatusNotFound, func(t *testing.T, err error) {
			var statusErr *catalog.StatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/signed/a1", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			client, server := newTestClient(t, mux)

			dest := filepath.Join(t.TempDir(), "download.tmp")
			err := client.DownloadAsset(context.Background(), server.URL+"/signed/a1", dest)
			tt.check(t, err)
			_, statErr := os.Stat(dest)
			require.True(t, errors.Is(statErr, os.ErrNotExist), "failed download must not leave a file")
		})
	}
}

func TestDownloadAssetCancelledBeforeRequest(t *testing.T) {
	client, server := newTestClient(t, http.NewServeMux())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.DownloadAsset(ctx, server.URL+"/signed/a1", filepath.Join(t.TempDir(), "x"))
	require.ErrorIs(t, err, context.Canceled)
}
