package config

import (
	"errors"
	"fmt"
	"strings"
)

func normalizeConfig(cfg *Config) {
	cfg.Platform.Cookie = strings.TrimSpace(cfg.Platform.Cookie)
	cfg.Muxer.Tool = strings.TrimSpace(cfg.Muxer.Tool)
	cfg.Download.Dir = strings.TrimSpace(cfg.Download.Dir)

	switch strings.ToLower(strings.TrimSpace(cfg.Muxer.Strategy)) {
	case "async":
		cfg.Muxer.Strategy = "async"
	case "worker":
		cfg.Muxer.Strategy = "worker"
	default:
		cfg.Muxer.Strategy = "auto"
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json":
		cfg.Logging.Format = "json"
	default:
		cfg.Logging.Format = "console"
	}

	if !strings.HasSuffix(cfg.Platform.VideoPageBase, "/") && cfg.Platform.VideoPageBase != "" {
		cfg.Platform.VideoPageBase += "/"
	}
}

func validateConfig(cfg *Config) error {
	var errs []error

	if cfg.Platform.SearchEndpoint == "" {
		errs = append(errs, errors.New("platform.search_endpoint is required"))
	}
	if cfg.Platform.SearchCount < 1 || cfg.Platform.SearchCount > 50 {
		errs = append(errs, fmt.Errorf("platform.search_count must be between 1 and 50, got %d", cfg.Platform.SearchCount))
	}
	if cfg.Download.Dir == "" {
		errs = append(errs, errors.New("download.dir is required"))
	}
	if cfg.Download.MaxDurationSeconds <= 0 {
		errs = append(errs, fmt.Errorf("download.max_duration must be positive, got %d", cfg.Download.MaxDurationSeconds))
	}
	if cfg.Download.UploadThresholdMB <= 0 {
		errs = append(errs, fmt.Errorf("download.upload_threshold_mb must be positive, got %d", cfg.Download.UploadThresholdMB))
	}
	if cfg.Download.ReplyTimeout <= 0 {
		errs = append(errs, errors.New("download.reply_timeout must be positive"))
	}
	if cfg.Download.FetchTimeout < 0 || cfg.Muxer.MergeTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	if cfg.Download.MaxConcurrentJobs < 1 {
		errs = append(errs, fmt.Errorf("download.max_concurrent_jobs must be at least 1, got %d", cfg.Download.MaxConcurrentJobs))
	}
	if cfg.Muxer.Tool == "" {
		errs = append(errs, errors.New("muxer.tool is required"))
	}

	return errors.Join(errs...)
}
