package config

import "time"

// Config is the full runtime configuration of the bot.
type Config struct {
	Platform PlatformConfig `mapstructure:"platform"`
	Download DownloadConfig `mapstructure:"download"`
	Muxer    MuxerConfig    `mapstructure:"muxer"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
}

// PlatformConfig holds endpoints and the request header profile for the video site.
type PlatformConfig struct {
	SearchEndpoint  string        `mapstructure:"search_endpoint"`
	ViewEndpoint    string        `mapstructure:"view_endpoint"`
	PlayURLEndpoint string        `mapstructure:"playurl_endpoint"`
	VideoPageBase   string        `mapstructure:"video_page_base"`
	UserAgent       string        `mapstructure:"user_agent"`
	Referer         string        `mapstructure:"referer"`
	Origin          string        `mapstructure:"origin"`
	Cookie          string        `mapstructure:"cookie"`
	SearchCount     int           `mapstructure:"search_count"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// DownloadConfig controls fetching, delivery thresholds and job limits.
type DownloadConfig struct {
	Dir                string        `mapstructure:"dir"`
	MaxDurationSeconds int           `mapstructure:"max_duration"`
	UploadThresholdMB  int64         `mapstructure:"upload_threshold_mb"`
	ReplyTimeout       time.Duration `mapstructure:"reply_timeout"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	ProgressStepBytes  int64         `mapstructure:"progress_step_bytes"`
	MaxConcurrentJobs  int           `mapstructure:"max_concurrent_jobs"`
}

// MuxerConfig selects the external multiplexer and how it is spawned.
type MuxerConfig struct {
	Tool         string        `mapstructure:"tool"`
	Verbose      bool          `mapstructure:"verbose"`
	Strategy     string        `mapstructure:"strategy"` // auto, async or worker
	MergeTimeout time.Duration `mapstructure:"merge_timeout"`
}

// LoggingConfig mirrors logging.Config in string form.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig locates the job history database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// settings flattens the config into viper keys.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"platform.search_endpoint":     c.Platform.SearchEndpoint,
		"platform.view_endpoint":       c.Platform.ViewEndpoint,
		"platform.playurl_endpoint":    c.Platform.PlayURLEndpoint,
		"platform.video_page_base":     c.Platform.VideoPageBase,
		"platform.user_agent":          c.Platform.UserAgent,
		"platform.referer":             c.Platform.Referer,
		"platform.origin":              c.Platform.Origin,
		"platform.cookie":              c.Platform.Cookie,
		"platform.search_count":        c.Platform.SearchCount,
		"platform.request_timeout":     c.Platform.RequestTimeout.String(),
		"download.dir":                 c.Download.Dir,
		"download.max_duration":        c.Download.MaxDurationSeconds,
		"download.upload_threshold_mb": c.Download.UploadThresholdMB,
		"download.reply_timeout":       c.Download.ReplyTimeout.String(),
		"download.fetch_timeout":       c.Download.FetchTimeout.String(),
		"download.progress_step_bytes": c.Download.ProgressStepBytes,
		"download.max_concurrent_jobs": c.Download.MaxConcurrentJobs,
		"muxer.tool":                   c.Muxer.Tool,
		"muxer.verbose":                c.Muxer.Verbose,
		"muxer.strategy":               c.Muxer.Strategy,
		"muxer.merge_timeout":          c.Muxer.MergeTimeout.String(),
		"logging.level":                c.Logging.Level,
		"logging.format":               c.Logging.Format,
		"database.path":                c.Database.Path,
		"server.addr":                  c.Server.Addr,
	}
}
