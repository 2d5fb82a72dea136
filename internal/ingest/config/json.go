package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/photoimport/internal/flagx"
	"github.com/dmitrijs2005/photoimport/internal/timex"
)

// JsonConfig is the DTO used only for reading JSON configuration files.
// Durations use timex.Duration so values may be "60s" or integer nanoseconds.
// Absent (zero) fields leave the current Config value untouched.
type JsonConfig struct {
	StatusAddr string `json:"status_addr"`
	LogLevel   string `json:"log_level"`

	DatabaseDSN     string `json:"database_dsn"`
	VaultPath       string `json:"vault_path"`
	VaultPassphrase string `json:"vault_passphrase"`
	RedisAddr       string `json:"redis_addr"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	WatchBucket        string `json:"watch_bucket"`
	WatchPrefix        string `json:"watch_prefix"`
	WatchSuffix        string `json:"watch_suffix"`
	ArrivalMetadataKey string `json:"arrival_metadata_key"`
	MaxConcurrent      int    `json:"max_concurrent"`

	DAMBaseURL     string         `json:"dam_base_url"`
	TokenURL       string         `json:"token_url"`
	ClientID       string         `json:"client_id"`
	CatalogID      string         `json:"catalog_id"`
	AccountID      string         `json:"account_id"`
	DeviceTag      string         `json:"device_tag"`
	UploadAttempts int            `json:"upload_attempts"`
	RequestTimeout timex.Duration `json:"request_timeout"`

	PrefixLimit     int64          `json:"prefix_limit"`
	CaptureTimezone string         `json:"capture_timezone"`
	TokenLookahead  timex.Duration `json:"token_lookahead"`

	APICallRetention timex.Duration `json:"api_call_retention"`
	JanitorInterval  timex.Duration `json:"janitor_interval"`

	TracingEndpoint   string `json:"tracing_endpoint"`
	StatusRedirectURL string `json:"status_redirect_url"`
}

// parseJson overlays config with values from the JSON file named by
// flagx.JsonConfigFlags. It panics if the file cannot be read or decoded.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.StatusAddr, c.StatusAddr)
	setString(&config.LogLevel, c.LogLevel)

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.VaultPath, c.VaultPath)
	setString(&config.VaultPassphrase, c.VaultPassphrase)
	setString(&config.RedisAddr, c.RedisAddr)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	setString(&config.WatchBucket, c.WatchBucket)
	setString(&config.WatchPrefix, c.WatchPrefix)
	setString(&config.WatchSuffix, c.WatchSuffix)
	setString(&config.ArrivalMetadataKey, c.ArrivalMetadataKey)
	if c.MaxConcurrent > 0 {
		config.MaxConcurrent = c.MaxConcurrent
	}

	setString(&config.DAMBaseURL, c.DAMBaseURL)
	setString(&config.TokenURL, c.TokenURL)
	setString(&config.ClientID, c.ClientID)
	setString(&config.CatalogID, c.CatalogID)
	setString(&config.AccountID, c.AccountID)
	setString(&config.DeviceTag, c.DeviceTag)
	if c.UploadAttempts > 0 {
		config.UploadAttempts = c.UploadAttempts
	}
	if c.RequestTimeout.Duration > 0 {
		config.RequestTimeout = c.RequestTimeout.Duration
	}

	if c.PrefixLimit > 0 {
		config.PrefixLimit = c.PrefixLimit
	}
	setString(&config.CaptureTimezone, c.CaptureTimezone)
	if c.TokenLookahead.Duration > 0 {
		config.TokenLookahead = c.TokenLookahead.Duration
	}

	if c.APICallRetention.Duration > 0 {
		config.APICallRetention = c.APICallRetention.Duration
	}
	if c.JanitorInterval.Duration > 0 {
		config.JanitorInterval = c.JanitorInterval.Duration
	}

	setString(&config.TracingEndpoint, c.TracingEndpoint)
	setString(&config.StatusRedirectURL, c.StatusRedirectURL)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
