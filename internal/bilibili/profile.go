package bilibili

import (
	"net/http"
	"strings"

	"video-search-bot/internal/config"
)

// Profile is the explicit request configuration shared by the API client
// and the stream fetcher.
type Profile struct {
	SearchEndpoint  string
	ViewEndpoint    string
	PlayURLEndpoint string
	VideoPageBase   string
	Headers         http.Header
}

// NewProfile builds the request profile from platform settings.
// The cookie header is sent only when configured.
func NewProfile(cfg config.PlatformConfig) Profile {
	headers := http.Header{}
	headers.Set("User-Agent", cfg.UserAgent)
	headers.Set("Referer", cfg.Referer)
	if cfg.Origin != "" {
		headers.Set("Origin", cfg.Origin)
	}
	headers.Set("Accept", "application/json, text/plain, */*")
	if cookie := strings.TrimSpace(cfg.Cookie); cookie != "" {
		headers.Set("Cookie", cookie)
	}

	return Profile{
		SearchEndpoint:  cfg.SearchEndpoint,
		ViewEndpoint:    cfg.ViewEndpoint,
		PlayURLEndpoint: cfg.PlayURLEndpoint,
		VideoPageBase:   cfg.VideoPageBase,
		Headers:         headers,
	}
}

// StreamHeaders returns the header set for CDN stream downloads.
func (p Profile) StreamHeaders() http.Header {
	headers := p.Headers.Clone()
	headers.Del("Accept")
	return headers
}

// VideoPageURL returns the public watch page of a video.
func (p Profile) VideoPageURL(bvid string) string {
	base := p.VideoPageBase
	if base == "" {
		base = "https://www.bilibili.com/video/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + bvid
}
