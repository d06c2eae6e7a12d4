// Package config loads the TOML configuration document and the required
// environment variables. Zero values are filled in with sane defaults;
// missing environment variables are hard errors at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// General mirrors the [general] TOML section.
type General struct {
	MaxMessageSenderThreads       int    `mapstructure:"max_message_sender_threads"`
	MaxFrameProcessorThreads      int    `mapstructure:"max_frame_processor_threads"`
	MinAggregationFramesThreshold int    `mapstructure:"min_aggregation_frames_threshold"`
	MaxFrameBuffers               int    `mapstructure:"max_frame_buffers"`
	LocalTimezone                 string `mapstructure:"local_timezone"`
	TimestampFormat               string `mapstructure:"timestamp_format"`
}

// Logging mirrors the [logging] TOML section.
type Logging struct {
	LogBaseFolder               string `mapstructure:"log_base_folder"`
	LogFileName                 string `mapstructure:"log_file_name"`
	LogDbgFileName              string `mapstructure:"log_dbg_file_name"`
	StdoutDebugLevel            string `mapstructure:"stdout_debug_level"`
	EnableCascadeLogging        bool   `mapstructure:"enable_cascade_logging"`
	EnableCircularBufferLogging bool   `mapstructure:"enable_circular_buffer_logging"`
	MaxLogFileSizeMB            int    `mapstructure:"max_log_file_size_mb"`
	MaxLogFilesKept             int    `mapstructure:"max_log_files_kept"`
}

// Camera mirrors the [camera] TOML section.
type Camera struct {
	CameraFPS                    int `mapstructure:"camera_fps"`
	CameraCleanupFramesThreshold int `mapstructure:"camera_cleanup_frames_threshold"`
}

// Model mirrors the [model] TOML section.
type Model struct {
	EventResetThreshold    int     `mapstructure:"event_reset_threshold"`
	CatCounterThreshold    int     `mapstructure:"cat_counter_threshold"`
	CumulusPreyThreshold   float64 `mapstructure:"cumulus_prey_threshold"`
	CumulusNoPreyThreshold float64 `mapstructure:"cumulus_no_prey_threshold"`
	PreyValHardThreshold   float64 `mapstructure:"prey_val_hard_threshold"`
}

// Flap mirrors the [flap] TOML section.
type Flap struct {
	LetInOpenSeconds int `mapstructure:"let_in_open_seconds"`
}

// Config is the full TOML document plus the environment-sourced values.
type Config struct {
	General General `mapstructure:"general"`
	Logging Logging `mapstructure:"logging"`
	Camera  Camera  `mapstructure:"camera"`
	Model   Model   `mapstructure:"model"`
	Flap    Flap    `mapstructure:"flap"`

	// Env holds the required environment variables; never sourced from
	// the TOML file. Secrets and deployment endpoints stay out of the
	// checked-in config.
	Env Env
}

// Env is the environment-sourced half of the configuration.
type Env struct {
	CameraStreamURI  string
	SurepetUser      string
	SurepetPassword  string
	TelegramChatID   int64
	TelegramBotToken string
	UseNullCamera    bool
	UseNullTelegram  bool
	LogFolder        string
}

// Load reads the TOML file at path, default-fills, reads required
// environment variables and validates both. A missing file or a missing
// required env var is fatal at startup.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.Check()

	env, err := loadEnv()
	if err != nil {
		return nil, err
	}
	cfg.Env = env

	return &cfg, nil
}

// Check default-fills zero values. No TOML field is individually
// required; the hard-failure line sits at the environment variables (see
// loadEnv).
func (c *Config) Check() {
	if c.General.MaxMessageSenderThreads < 1 {
		c.General.MaxMessageSenderThreads = 2
	}
	if c.General.MaxFrameProcessorThreads < 1 {
		c.General.MaxFrameProcessorThreads = 2
	}
	if c.General.MinAggregationFramesThreshold < 1 {
		c.General.MinAggregationFramesThreshold = 1
	}
	if c.General.MaxFrameBuffers < 1 {
		c.General.MaxFrameBuffers = 8
	}
	if c.General.LocalTimezone == "" {
		c.General.LocalTimezone = "UTC"
	}
	if c.General.TimestampFormat == "" {
		c.General.TimestampFormat = "2006-01-02T15-04-05.000"
	}

	if c.Logging.LogBaseFolder == "" {
		c.Logging.LogBaseFolder = "."
	}
	if c.Logging.LogFileName == "" {
		c.Logging.LogFileName = "balrog.log"
	}
	if c.Logging.LogDbgFileName == "" {
		c.Logging.LogDbgFileName = "balrog-debug.log"
	}
	if c.Logging.StdoutDebugLevel == "" {
		c.Logging.StdoutDebugLevel = "INFO"
	}
	if c.Logging.MaxLogFileSizeMB < 1 {
		c.Logging.MaxLogFileSizeMB = 50
	}
	if c.Logging.MaxLogFilesKept < 1 {
		c.Logging.MaxLogFilesKept = 5
	}

	if c.Camera.CameraFPS < 1 {
		c.Camera.CameraFPS = 5
	}
	if c.Camera.CameraCleanupFramesThreshold < 1 {
		c.Camera.CameraCleanupFramesThreshold = 1000
	}

	if c.Model.EventResetThreshold < 1 {
		c.Model.EventResetThreshold = 6
	}
	if c.Model.CatCounterThreshold < 1 {
		c.Model.CatCounterThreshold = 6
	}

	if c.Flap.LetInOpenSeconds < 1 {
		c.Flap.LetInOpenSeconds = 10
	}
}

// loadEnv reads the process environment. Unset required values are fatal
// at startup; BALROG_USE_NULL_CAMERA/TELEGRAM select the debug variants
// and make the corresponding credentials optional.
func loadEnv() (Env, error) {
	env := Env{
		UseNullCamera:   os.Getenv("BALROG_USE_NULL_CAMERA") != "",
		UseNullTelegram: os.Getenv("BALROG_USE_NULL_TELEGRAM") != "",
		LogFolder:       os.Getenv("BALROG_LOG_FOLDER"),
	}

	if !env.UseNullCamera {
		env.CameraStreamURI = os.Getenv("CAMERA_STREAM_URI")
		if env.CameraStreamURI == "" {
			return env, errors.New("config: CAMERA_STREAM_URI is required unless BALROG_USE_NULL_CAMERA is set")
		}
	}

	env.SurepetUser = os.Getenv("SUREPET_USER")
	env.SurepetPassword = os.Getenv("SUREPET_PASSWORD")
	if env.SurepetUser == "" || env.SurepetPassword == "" {
		return env, errors.New("config: SUREPET_USER and SUREPET_PASSWORD are required")
	}

	if !env.UseNullTelegram {
		chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
		env.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
		if chatIDStr == "" || env.TelegramBotToken == "" {
			return env, errors.New("config: TELEGRAM_CHAT_ID and TELEGRAM_BOT_TOKEN are required unless BALROG_USE_NULL_TELEGRAM is set")
		}
		chatID, err := parseChatID(chatIDStr)
		if err != nil {
			return env, fmt.Errorf("config: invalid TELEGRAM_CHAT_ID: %w", err)
		}
		env.TelegramChatID = chatID
	}

	return env, nil
}

func parseChatID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}

// Timezone resolves the configured local_timezone, falling back to UTC on
// an invalid IANA name rather than failing startup over a cosmetic field.
func (c *Config) Timezone() *time.Location {
	loc, err := time.LoadLocation(c.General.LocalTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
