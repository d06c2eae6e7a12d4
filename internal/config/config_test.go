package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "balrog.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestCheckFillsDefaults(t *testing.T) {
	var c Config
	c.Check()

	if c.General.MaxMessageSenderThreads != 2 {
		t.Errorf("expected default max_message_sender_threads 2, got %d", c.General.MaxMessageSenderThreads)
	}
	if c.General.MaxFrameBuffers != 8 {
		t.Errorf("expected default max_frame_buffers 8, got %d", c.General.MaxFrameBuffers)
	}
	if c.General.LocalTimezone != "UTC" {
		t.Errorf("expected default local_timezone UTC, got %q", c.General.LocalTimezone)
	}
	if c.Logging.LogFileName != "balrog.log" {
		t.Errorf("expected default log_file_name balrog.log, got %q", c.Logging.LogFileName)
	}
	if c.Camera.CameraFPS != 5 {
		t.Errorf("expected default camera_fps 5, got %d", c.Camera.CameraFPS)
	}
	if c.Flap.LetInOpenSeconds != 10 {
		t.Errorf("expected default let_in_open_seconds 10, got %d", c.Flap.LetInOpenSeconds)
	}
}

func TestCheckPreservesExplicitValues(t *testing.T) {
	c := Config{General: General{MaxFrameBuffers: 64}}
	c.Check()
	if c.General.MaxFrameBuffers != 64 {
		t.Fatalf("expected explicit max_frame_buffers to survive Check, got %d", c.General.MaxFrameBuffers)
	}
}

func TestLoadRequiresSurepetCredentials(t *testing.T) {
	path := writeTOML(t, "[general]\n")
	setEnv(t, map[string]string{
		"BALROG_USE_NULL_CAMERA":   "1",
		"BALROG_USE_NULL_TELEGRAM": "1",
	})
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail without SUREPET_USER/SUREPET_PASSWORD")
	}
}

func TestLoadRequiresCameraStreamURIUnlessNullCamera(t *testing.T) {
	path := writeTOML(t, "[general]\n")
	setEnv(t, map[string]string{
		"SUREPET_USER":             "u",
		"SUREPET_PASSWORD":         "p",
		"BALROG_USE_NULL_TELEGRAM": "1",
	})
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail without CAMERA_STREAM_URI when BALROG_USE_NULL_CAMERA is unset")
	}
}

func TestLoadSucceedsWithNullVariantsAndRequiredEnv(t *testing.T) {
	path := writeTOML(t, "[general]\nmax_frame_buffers = 16\n")
	setEnv(t, map[string]string{
		"BALROG_USE_NULL_CAMERA":   "1",
		"BALROG_USE_NULL_TELEGRAM": "1",
		"SUREPET_USER":             "u",
		"SUREPET_PASSWORD":         "p",
	})
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected Load to succeed, got %v", err)
	}
	if cfg.General.MaxFrameBuffers != 16 {
		t.Fatalf("expected TOML override to survive default-fill, got %d", cfg.General.MaxFrameBuffers)
	}
	if !cfg.Env.UseNullCamera || !cfg.Env.UseNullTelegram {
		t.Fatalf("expected both null-variant flags to be set, got %+v", cfg.Env)
	}
}

func TestLoadRequiresTelegramCredentialsUnlessNullTelegram(t *testing.T) {
	path := writeTOML(t, "[general]\n")
	setEnv(t, map[string]string{
		"BALROG_USE_NULL_CAMERA": "1",
		"SUREPET_USER":           "u",
		"SUREPET_PASSWORD":       "p",
	})
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail without TELEGRAM_CHAT_ID/TELEGRAM_BOT_TOKEN when BALROG_USE_NULL_TELEGRAM is unset")
	}
}

func TestTimezoneFallsBackToUTCOnInvalidName(t *testing.T) {
	c := Config{General: General{LocalTimezone: "Not/AZone"}}
	if loc := c.Timezone(); loc.String() != "UTC" {
		t.Fatalf("expected invalid timezone to fall back to UTC, got %v", loc)
	}
}
