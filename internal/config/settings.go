package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"keyportal/internal/security"
	"keyportal/internal/support"
)

type Config struct {
	Upstream struct {
		URL            string `json:"url"`
		ManagementKey  string `json:"management_key"`
		TimeoutSeconds uint32 `json:"timeout_seconds"`
	} `json:"upstream"`

	Feishu struct {
		AppID     string `json:"app_id"`
		AppSecret string `json:"app_secret"`
		LoginURL  string `json:"login_url"`
	} `json:"feishu"`

	Keys struct {
		ExpireWarningHours uint32 `json:"expire_warning_hours"`
		ExpiryCheckTimer   Timer  `json:"expiry_check_timer"`
		PoolPrefix         string `json:"pool_prefix"`
	} `json:"keys"`

	Usage struct {
		SyncTimer       Timer  `json:"sync_timer"`
		BroadcastTimer  Timer  `json:"broadcast_timer"`
		CacheTTLSeconds uint32 `json:"cache_ttl_seconds"`
	} `json:"usage"`

	Snapshot struct {
		ExportTimer Timer `json:"export_timer"`
	} `json:"snapshot"`

	GitSync struct {
		Enabled  bool   `json:"enabled"`
		Schedule string `json:"schedule"`
	} `json:"git_sync"`

	ServiceInfo ServiceInfo `json:"service_info"`
}

type ServiceInfo struct {
	BaseURL         string            `json:"base_url"`
	AvailableModels []string          `json:"available_models"`
	APIEndpoints    map[string]string `json:"api_endpoints"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const (
	DataDir          = "data"
	settingsFilePath = "data/settings.json"
)

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	configValue.Store(Config{})
}

func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			err = os.MkdirAll(DataDir, os.ModePerm)
			if err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}

			err = os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm)
			if err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	var newConfig Config
	err = json.Unmarshal(data, &newConfig)
	if err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	applyEnvOverrides(&newConfig)
	decryptSecrets(&newConfig)

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file:", err)
		return
	}

	log.Debug("Settings file loaded successfully")
}

// Secrets and deployment-specific endpoints always come from the environment
// when set, so the settings file can be committed without credentials.
func applyEnvOverrides(cfg *Config) {
	cfg.Upstream.URL = support.GetEnv("UPSTREAM_URL", cfg.Upstream.URL)
	cfg.Upstream.ManagementKey = support.GetEnv("UPSTREAM_MANAGEMENT_KEY", cfg.Upstream.ManagementKey)
	cfg.Feishu.AppID = support.GetEnv("FEISHU_APP_ID", cfg.Feishu.AppID)
	cfg.Feishu.AppSecret = support.GetEnv("FEISHU_APP_SECRET", cfg.Feishu.AppSecret)
	cfg.Feishu.LoginURL = support.GetEnv("PORTAL_LOGIN_URL", cfg.Feishu.LoginURL)
}

// The settings file may carry sealed credentials so it can live in a shared
// checkout. Values without the encryption prefix pass through untouched.
func decryptSecrets(cfg *Config) {
	if plain, wasEncrypted, err := security.DecryptSecret(cfg.Upstream.ManagementKey); err != nil {
		log.Error("Error decrypting upstream management key:", err)
	} else if wasEncrypted {
		cfg.Upstream.ManagementKey = plain
	}

	if plain, wasEncrypted, err := security.DecryptSecret(cfg.Feishu.AppSecret); err != nil {
		log.Error("Error decrypting feishu app secret:", err)
	} else if wasEncrypted {
		cfg.Feishu.AppSecret = plain
	}
}

func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update:", err)
		return
	}

	log.Debug("Configuration updated and written to file successfully")
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	SetBetweenTime()

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration:", err)
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
			log.Error("Error writing new configuration to file:", err)
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			log.Error("Error serializing configuration for broadcast:", err)
			errs = append(errs, err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			log.Error("Error broadcasting configuration update:", err)
			errs = append(errs, err)
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
