package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"video-search-bot/internal/cleanup"
	"video-search-bot/internal/domain"
	"video-search-bot/internal/logging"
)

const (
	MsgEmptyKeyword = "Please provide a keyword"
	MsgNoResults    = "No matching videos found"
	MsgTimedOut     = "Operation timed out"
	MsgFailed       = "Download failed"
)

// Service is the part of the application the bot drives.
type Service interface {
	Search(ctx context.Context, keyword string) ([]domain.Video, error)
	Download(ctx context.Context, bvid string) (domain.Job, error)
}

// Options tune the reply window and delivery rules.
type Options struct {
	ReplyTimeout      time.Duration
	MaxDuration       int // seconds
	UploadThresholdMB int64
	PageURL           func(bvid string) string
}

// Handler runs the search, pick, download and deliver conversation.
type Handler struct {
	service Service
	opts    Options
	stat    func(string) (os.FileInfo, error)
	remove  func(paths ...string) cleanup.Report
}

// NewHandler constructs a bot handler.
func NewHandler(service Service, opts Options) *Handler {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 60 * time.Second
	}
	if opts.PageURL == nil {
		opts.PageURL = func(bvid string) string { return "https://www.bilibili.com/video/" + bvid }
	}
	return &Handler{
		service: service,
		opts:    opts,
		stat:    os.Stat,
		remove:  cleanup.RemoveFiles,
	}
}

// HandleSearch runs one search conversation to completion.
func (h *Handler) HandleSearch(ctx context.Context, conv Conversation, keyword string) error {
	log := logging.FromContext(ctx)

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return conv.SendText(ctx, MsgEmptyKeyword)
	}

	videos, err := h.service.Search(ctx, keyword)
	if err != nil {
		log.Error().Err(err).Str("keyword", keyword).Msg("search failed")
		return conv.SendText(ctx, MsgNoResults)
	}
	if len(videos) == 0 {
		return conv.SendText(ctx, MsgNoResults)
	}
	if err := conv.SendText(ctx, FormatResults(videos)); err != nil {
		return err
	}

	index, err := h.awaitChoice(ctx, conv, len(videos))
	if errors.Is(err, context.DeadlineExceeded) {
		return conv.SendText(ctx, MsgTimedOut)
	}
	if err != nil {
		return err
	}

	video := videos[index-1]
	if err := conv.SendText(ctx, fmt.Sprintf("Downloading video [%d]...", index)); err != nil {
		return err
	}
	log.Info().Str("bvid", video.BVID).Str("title", video.Title).Msg("downloading video")

	seconds, err := ParseDuration(video.Duration)
	if err != nil || seconds > h.opts.MaxDuration {
		return conv.SendText(ctx, "Video is too long: "+h.opts.PageURL(video.BVID))
	}

	job, err := h.service.Download(ctx, video.BVID)
	if err != nil || job.OutputPath == "" {
		log.Error().Err(err).Str("bvid", video.BVID).Msg("download failed")
		return conv.SendText(ctx, MsgFailed)
	}
	return h.deliver(ctx, conv, job.OutputPath)
}

// awaitChoice reads replies until one is a valid 1-based index.
// Invalid replies are ignored; the whole wait shares one deadline.
func (h *Handler) awaitChoice(ctx context.Context, conv Conversation, count int) (int, error) {
	waitCtx, cancel := context.WithTimeout(ctx, h.opts.ReplyTimeout)
	defer cancel()

	for {
		reply, err := conv.Receive(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return 0, context.DeadlineExceeded
			}
			return 0, err
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(reply))
		if convErr != nil || n < 1 || n > count {
			continue
		}
		return n, nil
	}
}

// deliver sends the merged file and always deletes it afterwards.
func (h *Handler) deliver(ctx context.Context, conv Conversation, path string) error {
	log := logging.FromContext(ctx)
	defer func() {
		report := h.remove(path)
		report.Log(log)
	}()

	info, err := h.stat(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("merged output missing")
		return conv.SendText(ctx, MsgFailed)
	}

	sizeMB := info.Size() / (1024 * 1024)
	if uploader, ok := conv.(FileUploader); ok && sizeMB > h.opts.UploadThresholdMB {
		log.Info().Int64("size_mb", sizeMB).Msg("uploading as file")
		if err := uploader.UploadFile(ctx, path, filepath.Base(path)); err != nil {
			log.Error().Err(err).Msg("file upload failed")
			return err
		}
		return nil
	}

	if err := conv.SendVideo(ctx, path); err != nil {
		log.Error().Err(err).Msg("send video failed")
		return err
	}
	return nil
}
