// Package config loads server configuration the way the teacher's
// models.ConfigFile + main.go.readConfigFile does: a flat JSON file,
// with the keys of SPEC_FULL.md §6's config-key table (plus the
// snowflake worker id) overridable by an environment variable. logFile,
// serverName, serverAddress and maxClients come from the file only.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

type Config struct {
	ListenHost string `json:"listenHost"`
	ListenPort string `json:"listenPort"`

	SelfContained bool `json:"selfContained"`

	StoreURL    string `json:"storeUrl"`
	PresenceURL string `json:"presenceUrl"`

	SFUAnnouncedAddress string `json:"sfuAnnouncedAddress"`
	SFURTCMinPort       int    `json:"sfuRtcMinPort"`
	SFURTCMaxPort       int    `json:"sfuRtcMaxPort"`

	TURNURL        string `json:"turnUrl"`
	TURNUsername   string `json:"turnUsername"`
	TURNCredential string `json:"turnCredential"`

	AdminInstanceID string `json:"adminInstanceId"`
	SeedTemplate    bool   `json:"seedTemplate"`

	LogFile string `json:"logFile"`

	SnowflakeWorkerID int64  `json:"snowflakeWorkerId"`
	ServerName        string `json:"serverName"`
	ServerAddress     string `json:"serverAddress"`
	MaxClients        int    `json:"maxClients"`
}

func defaults() Config {
	return Config{
		ListenHost:    "0.0.0.0",
		ListenPort:    "8080",
		SelfContained: true,
		StoreURL:      "./reson8.db",
		PresenceURL:   "",
		SFURTCMinPort: 40000,
		SFURTCMaxPort: 49999,
		LogFile:       "reson8.log",
		ServerName:    "Reson8",
		ServerAddress: "0.0.0.0",
		MaxClients:    100,
	}
}

// Load reads fileName (if present; a missing file is not an error, the
// defaults carry the server) and then applies RESON8_*-prefixed
// environment overrides on top.
func Load(fileName string) (Config, error) {
	cfg := defaults()

	if f, err := os.Open(fileName); err == nil {
		defer f.Close()
		bytes, err := io.ReadAll(f)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(bytes, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	b := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	i := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	i64 := func(env string, dst *int64) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	str("RESON8_LISTEN_HOST", &cfg.ListenHost)
	str("RESON8_LISTEN_PORT", &cfg.ListenPort)
	b("RESON8_SELF_CONTAINED", &cfg.SelfContained)
	str("RESON8_STORE_URL", &cfg.StoreURL)
	str("RESON8_PRESENCE_URL", &cfg.PresenceURL)
	str("RESON8_SFU_ANNOUNCED_ADDRESS", &cfg.SFUAnnouncedAddress)
	i("RESON8_SFU_RTC_MIN_PORT", &cfg.SFURTCMinPort)
	i("RESON8_SFU_RTC_MAX_PORT", &cfg.SFURTCMaxPort)
	str("RESON8_TURN_URL", &cfg.TURNURL)
	str("RESON8_TURN_USERNAME", &cfg.TURNUsername)
	str("RESON8_TURN_CREDENTIAL", &cfg.TURNCredential)
	str("RESON8_ADMIN_INSTANCE_ID", &cfg.AdminInstanceID)
	b("RESON8_SEED_TEMPLATE", &cfg.SeedTemplate)
	i64("RESON8_WORKER_ID", &cfg.SnowflakeWorkerID)
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%s", c.ListenHost, c.ListenPort)
}
