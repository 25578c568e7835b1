package config

import (
	"errors"
	"os"
	"strings"
	"time"

	pkgerrors "codeverse/pkg/errors"
	"codeverse/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:8080"
	DefaultTimeout        = 10 * time.Second
	DefaultStatusTimeout  = 5 * time.Minute
	DefaultTokenStatePath = "configs/cli_state.json"
	DefaultLogLevel       = "warn"
)

// Environment keys that override the config file.
const (
	EnvBaseURL       = "CODEVERSE_BE_URL"
	EnvSubmissionURL = "CODEVERSE_SUBMISSION_URL"
	EnvStatePath     = "CODEVERSE_STATE_PATH"

	EnvContestsURL            = "CODEVERSE_START_CONTEST_URL"
	EnvContestRegistrationURL = "CODEVERSE_CONTEST_REGISTRATION"
	EnvLeaderboardURL         = "CODEVERSE_LEADERBOARD_URL"

	// EnvFetchMessageURL is the discussion history base; the room name is appended.
	EnvFetchMessageURL      = "CODEVERSE_FETCH_MESSAGE"
	EnvChatURL              = "CODEVERSE_WEB_SOCKET_URL"
	EnvLeaderboardStreamURL = "CODEVERSE_LEADERBOARD_WEB_SOCKET"
)

// Config holds CLI configuration.
type Config struct {
	BaseURL string `yaml:"baseURL"`
	// StreamURL is the ws(s) base of the status stream. Empty derives it from BaseURL.
	StreamURL string `yaml:"streamURL"`
	// ChatURL and LeaderboardStreamURL are the ws(s) bases of discussion rooms
	// and live leaderboards. Empty derives them from the stream base.
	ChatURL              string        `yaml:"chatURL"`
	LeaderboardStreamURL string        `yaml:"leaderboardStreamURL"`
	Timeout              time.Duration `yaml:"timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshakeTimeout"`
	// StatusTimeout bounds how long solve waits for a terminal status. Negative disables it.
	StatusTimeout  time.Duration `yaml:"statusTimeout"`
	TokenStatePath string        `yaml:"tokenStatePath"`
	PrettyJSON     *bool         `yaml:"prettyJSON"`
	Logger         logger.Config `yaml:"logger"`
	// Endpoints overrides command paths, keyed by "<service> <action>".
	// Values may be absolute URLs for services hosted apart from the backend.
	Endpoints map[string]string `yaml:"endpoints"`
}

// Load reads path, then applies environment overrides and defaults.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, pkgerrors.Wrapf(err, pkgerrors.ConfigLoadFailed, "read config file failed: %v", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, pkgerrors.Wrapf(err, pkgerrors.ConfigLoadFailed, "parse config file failed: %v", err)
			}
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// LoadEnv loads dotenv files into the process environment without overriding
// variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ConfigLoadFailed, "load env file failed: %v", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSubmissionURL)); v != "" {
		cfg.StreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStatePath)); v != "" {
		cfg.TokenStatePath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvChatURL)); v != "" {
		cfg.ChatURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLeaderboardStreamURL)); v != "" {
		cfg.LeaderboardStreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFetchMessageURL)); v != "" {
		if cfg.Endpoints == nil {
			cfg.Endpoints = map[string]string{}
		}
		cfg.Endpoints["discussion show"] = strings.TrimRight(v, "/") + "/:problem"
	}
	for key, env := range map[string]string{
		"contest list":     EnvContestsURL,
		"contest register": EnvContestRegistrationURL,
		"leaderboard show": EnvLeaderboardURL,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			if cfg.Endpoints == nil {
				cfg.Endpoints = map[string]string{}
			}
			cfg.Endpoints[key] = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatusTimeout == 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if cfg.StatusTimeout < 0 {
		cfg.StatusTimeout = 0
	}
	if cfg.TokenStatePath == "" {
		cfg.TokenStatePath = DefaultTokenStatePath
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = DefaultLogLevel
	}
}
