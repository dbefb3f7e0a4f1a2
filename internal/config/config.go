// Package config exposes runtime configuration read from environment
// variables, optionally seeded from a .env file.
package config

type Config interface {
	AuthConfig
	CatalogConfig
	StorageConfig
	AppConfig
}

// AuthConfig covers the OAuth device-code endpoints and client identity.
type AuthConfig interface {
	GetClientID() string
	GetScope() string
	GetAudience() string
	GetDeviceCodeEndpoint() string
	GetTokenEndpoint() string
}

// CatalogConfig covers the catalog API.
type CatalogConfig interface {
	GetAPIBaseURL() string
	GetSurfaceOS() string
}

// StorageConfig covers the local directories the client writes to.
type StorageConfig interface {
	GetDataDir() string
	GetCacheDir() string
}

// AppConfig covers process-level settings.
type AppConfig interface {
	GetAppName() string
	GetLogLevel() string
	GetDownloadConcurrency() int
}

type mainConfig struct {
	EnvVars
}

func New() Config {
	return mainConfig{}
}
