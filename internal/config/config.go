package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	appDirName = "llmtokens"

	DefaultModel       = "Qwen/Qwen2.5-0.5B"
	DefaultHubEndpoint = "https://huggingface.co"
	DefaultRevision    = "main"
)

type Config struct {
	Models      []string `toml:"models"`
	Mode        string   `toml:"mode"`
	WrapInput   string   `toml:"wrap_input"`
	Format      string   `toml:"format"`
	HubEndpoint string   `toml:"hub_endpoint"`
	Revision    string   `toml:"revision"`
	CacheDir    string   `toml:"cache_dir"`

	// Not persisted; taken from the environment only.
	HubToken string `toml:"-"`
	Offline  bool   `toml:"-"`
}

func Default() (Config, error) {
	_, cacheHome, err := xdgHomes()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Models:      []string{DefaultModel},
		Mode:        "both-auto",
		WrapInput:   "auto",
		Format:      "table",
		HubEndpoint: DefaultHubEndpoint,
		Revision:    DefaultRevision,
		CacheDir:    filepath.Join(cacheHome, appDirName),
	}, nil
}

// DefaultPath is the config file consulted when no explicit path is given.
func DefaultPath() (string, error) {
	if env := strings.TrimSpace(os.Getenv("LLMTOKENS_CONFIG")); env != "" {
		return env, nil
	}
	configHome, _, err := xdgHomes()
	if err != nil {
		return "", err
	}
	return filepath.Join(configHome, appDirName, "config.toml"), nil
}

// Load reads defaults, then the toml file at path (if it exists), then
// environment overrides. An empty path means DefaultPath.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path, err = DefaultPath()
		if err != nil {
			return Config{}, err
		}
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	} else if explicit {
		return Config{}, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv("HF_ENDPOINT")); env != "" {
		cfg.HubEndpoint = env
	}
	if env := strings.TrimSpace(os.Getenv("HF_HUB_CACHE")); env != "" {
		cfg.CacheDir = env
	} else if env := strings.TrimSpace(os.Getenv("HF_HOME")); env != "" {
		cfg.CacheDir = env
	}
	cfg.HubToken = strings.TrimSpace(os.Getenv("HF_TOKEN"))
	if cfg.HubToken == "" {
		cfg.HubToken = strings.TrimSpace(os.Getenv("HUGGING_FACE_HUB_TOKEN"))
	}
	cfg.Offline = envBool("HF_HUB_OFFLINE")
	cfg.HubEndpoint = strings.TrimRight(cfg.HubEndpoint, "/")
	if strings.TrimSpace(cfg.Revision) == "" {
		cfg.Revision = DefaultRevision
	}
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func xdgHomes() (string, string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	cacheHome := os.Getenv("XDG_CACHE_HOME")

	if configHome != "" && cacheHome != "" {
		return configHome, cacheHome, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}

	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}
	if cacheHome == "" {
		cacheHome = filepath.Join(home, ".cache")
	}

	return configHome, cacheHome, nil
}
