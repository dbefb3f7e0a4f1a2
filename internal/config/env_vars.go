package config

import (
	"os"
	"path/filepath"
	"strconv"
)

const (
	clientIDVar           = "EASEL_CLIENT_ID"
	scopeVar              = "EASEL_SCOPE"
	audienceVar           = "EASEL_AUDIENCE"
	deviceCodeEndpointVar = "EASEL_DEVICE_CODE_ENDPOINT"
	tokenEndpointVar      = "EASEL_TOKEN_ENDPOINT"
	apiBaseURLVar         = "EASEL_API_BASE_URL"
	surfaceOSVar          = "EASEL_SURFACE_OS"
	dataDirVar            = "EASEL_DATA_DIR"
	cacheDirVar           = "EASEL_CACHE_DIR"
	appNameVar            = "EASEL_APP_NAME"
	logLevelVar           = "EASEL_LOG_LEVEL"
	concurrencyVar        = "EASEL_DOWNLOAD_CONCURRENCY"
)

type EnvVars struct{}

var _ Config = EnvVars{}

func (EnvVars) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

func (EnvVars) GetScope() string {
	return GetEnv(scopeVar, "surface offline_access email")
}

func (EnvVars) GetAudience() string {
	return GetEnv(audienceVar, "")
}

func (EnvVars) GetDeviceCodeEndpoint() string {
	return GetEnv(deviceCodeEndpointVar, "")
}

func (EnvVars) GetTokenEndpoint() string {
	return GetEnv(tokenEndpointVar, "")
}

func (EnvVars) GetAPIBaseURL() string {
	return GetEnv(apiBaseURLVar, "")
}

func (EnvVars) GetSurfaceOS() string {
	return GetEnv(surfaceOSVar, "linux")
}

func (e EnvVars) GetDataDir() string {
	return GetEnv(dataDirVar, defaultDir("easel"))
}

func (e EnvVars) GetCacheDir() string {
	return GetEnv(cacheDirVar, filepath.Join(e.GetDataDir(), "assets"))
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Easel")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetDownloadConcurrency is the worker ceiling for the download queue. The
// default of 1 matches the constrained kiosk hardware this targets.
func (EnvVars) GetDownloadConcurrency() int {
	raw := GetEnv(concurrencyVar, "1")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func defaultDir(app string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), app)
	}
	return filepath.Join(home, ".local", "share", app)
}
