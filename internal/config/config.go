package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Spotify struct {
	ClientID            string   `mapstructure:"client_id"`
	ClientSecret        string   `mapstructure:"client_secret"`
	RedirectURI         string   `mapstructure:"redirect_uri"`
	Scopes              []string `mapstructure:"scopes"`
	PlaylistRedirectURI string   `mapstructure:"playlist_redirect_uri"`
	PlaylistScopes      []string `mapstructure:"playlist_scopes"`
	ConnectName         string   `mapstructure:"connect_name"`
	PlaylistAccountUID  string   `mapstructure:"playlist_account_uid"`
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	StreamHost string `mapstructure:"stream_host"`
	BaseURL    string `mapstructure:"base_url"`

	Prefix     string `mapstructure:"prefix"`
	BotToken   string `mapstructure:"bot_token"`
	Passphrase string `mapstructure:"encryption_passphrase"`
	DBPath     string `mapstructure:"db_path"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`

	PortMin int `mapstructure:"port_min"`
	PortMax int `mapstructure:"port_max"`

	Spotify Spotify `mapstructure:"spotify"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("stream_host", "127.0.0.1")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("prefix", "!")
	v.SetDefault("db_path", "spoofy.db")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("port_min", 15001)
	v.SetDefault("port_max", 15999)
	v.SetDefault("spotify.connect_name", "Spoofy")
	v.SetDefault("spotify.scopes", []string{
		"user-read-playback-state",
		"user-modify-playback-state",
		"user-read-currently-playing",
	})
	v.SetDefault("spotify.playlist_scopes", []string{
		"playlist-read-private",
		"playlist-modify-public",
		"playlist-modify-private",
	})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PortMin > cfg.PortMax {
		return nil, fmt.Errorf("port range %d-%d is empty", cfg.PortMin, cfg.PortMax)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Relay: %d-%d\n", cfg.Mode, cfg.Port, cfg.PortMin, cfg.PortMax)
	return &cfg, nil
}
