package httptransport

import (
	"video-search-bot/internal/cleanup"
	"video-search-bot/internal/domain"
	"video-search-bot/internal/jobs"
)

type createDownloadBody struct {
	BVID string `json:"bvid"`
}

type searchResponse struct {
	Keyword string         `json:"keyword"`
	Results []domain.Video `json:"results"`
}

type jobResponse struct {
	Job    domain.Job   `json:"job"`
	Events []jobs.Event `json:"events,omitempty"`
}

type removeResponse struct {
	ID      string         `json:"id"`
	Cleanup cleanup.Report `json:"cleanup"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error errorInfo `json:"error"`
}
