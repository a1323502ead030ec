// Package config provides configuration management for the Aliya client
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server Server `mapstructure:"server"`
	Chat   Chat   `mapstructure:"chat"`
	Wake   Wake   `mapstructure:"wake"`
	Listen Listen `mapstructure:"listen"`
	Gaze   Gaze   `mapstructure:"gaze"`
	Avatar Avatar `mapstructure:"avatar"`
	Log    Log    `mapstructure:"log"`
}

// Server configures the assistant backend endpoint
type Server struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIPrefix string        `mapstructure:"api_prefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Chat configures conversation requests
type Chat struct {
	Language      string `mapstructure:"language"`
	SpeakerID     string `mapstructure:"speaker_id"`
	GenerateAudio bool   `mapstructure:"generate_audio"`
	HistoryWindow int    `mapstructure:"history_window"` // completed turns included as context
	Streaming     bool   `mapstructure:"streaming"`      // use the NDJSON stream endpoint
}

// Wake configures wake-phrase detection
type Wake struct {
	// Variants are accepted spellings of the wake word, covering common
	// recognizer misspellings.
	Variants          []string      `mapstructure:"variants"`
	MinUtteranceRunes int           `mapstructure:"min_utterance_runes"`
	ActivationFlash   time.Duration `mapstructure:"activation_flash"`
}

// Listen configures the passive recognizer loop
type Listen struct {
	Endpoint     string        `mapstructure:"endpoint"` // websocket recognizer URL
	APIKey       string        `mapstructure:"api_key"`
	Language     string        `mapstructure:"language"`
	SampleRate   int           `mapstructure:"sample_rate"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// Gaze configures the camera gaze pipeline
type Gaze struct {
	CameraDevice string `mapstructure:"camera_device"`
	FrameStride  int    `mapstructure:"frame_stride"` // process 1 in N raw frames
}

// Avatar configures avatar animation
type Avatar struct {
	BlinkMin      time.Duration `mapstructure:"blink_min"`
	BlinkMax      time.Duration `mapstructure:"blink_max"`
	BlinkDuration time.Duration `mapstructure:"blink_duration"`
	PupilRange    float64       `mapstructure:"pupil_range"` // max pupil offset from gaze
}

// Log configures logging
type Log struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	MaxHistory int    `mapstructure:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			BaseURL:   "http://localhost:8000",
			APIPrefix: "/api/v1",
			Timeout:   120 * time.Second,
		},
		Chat: Chat{
			Language:      "ru",
			SpeakerID:     "",
			GenerateAudio: true,
			HistoryWindow: 8,
			Streaming:     true,
		},
		Wake: Wake{
			Variants:          []string{"алия", "алея", "аля", "aliya"},
			MinUtteranceRunes: 12,
			ActivationFlash:   800 * time.Millisecond,
		},
		Listen: Listen{
			Endpoint:     "",
			Language:     "ru",
			SampleRate:   16000,
			ErrorBackoff: 2 * time.Second,
		},
		Gaze: Gaze{
			CameraDevice: "",
			FrameStride:  3,
		},
		Avatar: Avatar{
			BlinkMin:      2 * time.Second,
			BlinkMax:      6 * time.Second,
			BlinkDuration: 150 * time.Millisecond,
			PupilRange:    0.35,
		},
		Log: Log{
			Level:      "debug",
			Console:    true,
			MaxHistory: 1000,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return cfg, err
	}

	configDir := filepath.Join(homeDir, ".aliya")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("ALIYA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Watch re-unmarshals the config on file changes and invokes onChange.
// Unparseable edits are ignored; the previous config stays in effect.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(homeDir, ".aliya")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("server", cfg.Server)
	viper.Set("chat", cfg.Chat)
	viper.Set("wake", cfg.Wake)
	viper.Set("listen", cfg.Listen)
	viper.Set("gaze", cfg.Gaze)
	viper.Set("avatar", cfg.Avatar)
	viper.Set("log", cfg.Log)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// ConfigDir returns the configuration directory path
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".aliya"), nil
}
