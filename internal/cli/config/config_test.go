package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeverse/internal/testutil"
	pkgerrors "codeverse/pkg/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvBaseURL, EnvSubmissionURL, EnvStatePath, EnvContestsURL, EnvContestRegistrationURL, EnvLeaderboardURL,
		EnvFetchMessageURL, EnvChatURL, EnvLeaderboardStreamURL} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertEqual(t, cfg.BaseURL, DefaultBaseURL)
	testutil.AssertEqual(t, cfg.StreamURL, "")
	testutil.AssertEqual(t, cfg.Timeout, DefaultTimeout)
	testutil.AssertEqual(t, cfg.StatusTimeout, DefaultStatusTimeout)
	testutil.AssertEqual(t, cfg.TokenStatePath, DefaultTokenStatePath)
	testutil.AssertEqual(t, cfg.Logger.Level, DefaultLogLevel)
	testutil.AssertTrue(t, cfg.PrettyJSON != nil && *cfg.PrettyJSON, "prettyJSON defaults to true")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := testutil.WriteFile(t, "cli.yaml", `
baseURL: http://api.local:9000
streamURL: ws://push.local:9001
timeout: 3s
statusTimeout: -1s
prettyJSON: false
logger:
  level: debug
  format: console
  outputPath: /tmp/codeverse.log
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertEqual(t, cfg.BaseURL, "http://api.local:9000")
	testutil.AssertEqual(t, cfg.StreamURL, "ws://push.local:9001")
	testutil.AssertEqual(t, cfg.Timeout, 3*time.Second)
	testutil.AssertEqual(t, cfg.StatusTimeout, time.Duration(0))
	testutil.AssertFalse(t, *cfg.PrettyJSON, "prettyJSON should be false")
	testutil.AssertEqual(t, cfg.Logger.Level, "debug")
	testutil.AssertEqual(t, cfg.Logger.OutputPath, "/tmp/codeverse.log")
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := testutil.WriteFile(t, "cli.yaml", "baseURL: [unterminated")
	_, err := Load(path)
	if !pkgerrors.Is(err, pkgerrors.ConfigLoadFailed) {
		t.Fatalf("expected ConfigLoadFailed, got %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBaseURL, "https://be.codeverse.dev")
	t.Setenv(EnvSubmissionURL, "wss://submit.codeverse.dev")
	path := testutil.WriteFile(t, "cli.yaml", "baseURL: http://file.local\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertEqual(t, cfg.BaseURL, "https://be.codeverse.dev")
	testutil.AssertEqual(t, cfg.StreamURL, "wss://submit.codeverse.dev")
}

func TestEndpointOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvContestsURL, "http://contest.local/contests")
	path := testutil.WriteFile(t, "cli.yaml", `
endpoints:
  leaderboard show: http://board.local/leaderboard
  contest list: http://file.local/contests
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertEqual(t, cfg.Endpoints["contest list"], "http://contest.local/contests")
	testutil.AssertEqual(t, cfg.Endpoints["leaderboard show"], "http://board.local/leaderboard")
	testutil.AssertEqual(t, len(cfg.Endpoints), 2)
}

func TestLiveEndpointOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvFetchMessageURL, "http://chat.local:8000/fetch_messages/")
	t.Setenv(EnvChatURL, "ws://chat.local:8000/ws/chat")
	path := testutil.WriteFile(t, "cli.yaml", `
chatURL: ws://file.local/chat
leaderboardStreamURL: ws://board.local/ws/leaderboard
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertEqual(t, cfg.ChatURL, "ws://chat.local:8000/ws/chat")
	testutil.AssertEqual(t, cfg.LeaderboardStreamURL, "ws://board.local/ws/leaderboard")
	testutil.AssertEqual(t, cfg.Endpoints["discussion show"], "http://chat.local:8000/fetch_messages/:problem")

	clearEnv(t)
	t.Setenv(EnvLeaderboardStreamURL, "wss://board.codeverse.dev/ws")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertEqual(t, cfg.LeaderboardStreamURL, "wss://board.codeverse.dev/ws")
	testutil.AssertEqual(t, cfg.ChatURL, "")
	testutil.AssertEqual(t, len(cfg.Endpoints), 0)
}

func TestLoadEnvFile(t *testing.T) {
	// t.Setenv restores the previous values; unset so godotenv treats the keys as absent.
	clearEnv(t)
	_ = os.Unsetenv(EnvSubmissionURL)
	_ = os.Unsetenv(EnvBaseURL)

	envPath := testutil.WriteFile(t, ".env", EnvSubmissionURL+"=ws://from.dotenv\n"+EnvBaseURL+"=http://from.dotenv\n")
	if err := LoadEnv(envPath, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("load env failed: %v", err)
	}
	testutil.AssertEqual(t, os.Getenv(EnvSubmissionURL), "ws://from.dotenv")
	testutil.AssertEqual(t, os.Getenv(EnvBaseURL), "http://from.dotenv")
}

func TestLoadEnvKeepsExistingVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBaseURL, "http://explicit")
	envPath := testutil.WriteFile(t, ".env", EnvBaseURL+"=http://from.dotenv\n")
	if err := LoadEnv(envPath); err != nil {
		t.Fatalf("load env failed: %v", err)
	}
	testutil.AssertEqual(t, os.Getenv(EnvBaseURL), "http://explicit")
}

func TestLoadEnvWithoutFiles(t *testing.T) {
	dir := t.TempDir()
	if err := LoadEnv(filepath.Join(dir, "nope.env")); err != nil {
		t.Fatalf("missing env files should be skipped: %v", err)
	}
}
