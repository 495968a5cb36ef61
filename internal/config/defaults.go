package config

import (
	"os"
	"path/filepath"
	"time"
)

const appDirName = "video-search-bot"

// DefaultConfig returns baseline configuration for first launch.
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			SearchEndpoint:  "https://api.bilibili.com/x/web-interface/search/type",
			ViewEndpoint:    "https://api.bilibili.com/x/web-interface/view",
			PlayURLEndpoint: "https://api.bilibili.com/x/player/playurl",
			VideoPageBase:   "https://www.bilibili.com/video/",
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Referer:         "https://www.bilibili.com",
			Origin:          "https://www.bilibili.com",
			SearchCount:     18,
			RequestTimeout:  15 * time.Second,
		},
		Download: DownloadConfig{
			Dir:                defaultDownloadDir(),
			MaxDurationSeconds: 600,
			UploadThresholdMB:  100,
			ReplyTimeout:       60 * time.Second,
			ProgressStepBytes:  1 << 20,
			MaxConcurrentJobs:  2,
		},
		Muxer: MuxerConfig{
			Tool:     "ffmpeg",
			Strategy: "auto",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(DefaultConfigDir(), "history.db"),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return filepath.Join(".", "."+appDirName)
		}
		return filepath.Join(home, "."+appDirName)
	}
	return filepath.Join(base, appDirName)
}

func defaultDownloadDir() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, "downloads")
}
