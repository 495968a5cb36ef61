package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"video-search-bot/internal/domain"
	"video-search-bot/internal/logging"
)

// ErrNoStreams is returned when a video has no separate DASH video and audio.
var ErrNoStreams = errors.New("no dash video/audio streams available")

var (
	bvidPattern = regexp.MustCompile(`^BV[0-9A-Za-z]{10}$`)
	tagPattern  = regexp.MustCompile(`<[^>]*>`)
)

// APIError is a non-zero response code from the platform API.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bilibili api %s: code %d: %s", e.Endpoint, e.Code, e.Message)
}

// Client talks to the search, view and playurl endpoints.
type Client struct {
	http        *http.Client
	profile     Profile
	searchCount int
}

// NewClient constructs an API client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, profile Profile, searchCount int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if searchCount <= 0 {
		searchCount = 18
	}
	return &Client{http: httpClient, profile: profile, searchCount: searchCount}
}

// Profile returns the request profile used by the client.
func (c *Client) Profile() Profile {
	return c.profile
}

// ValidBVID reports whether s looks like a BV id.
func ValidBVID(s string) bool {
	return bvidPattern.MatchString(s)
}

// Search returns up to the configured number of video hits for keyword.
func (c *Client) Search(ctx context.Context, keyword string) ([]domain.Video, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword is required", domain.ErrValidation)
	}

	params := url.Values{}
	params.Set("search_type", "video")
	params.Set("keyword", keyword)
	params.Set("page", "1")

	var data searchData
	if err := c.getJSON(ctx, c.profile.SearchEndpoint, params, &data); err != nil {
		return nil, err
	}

	videos := make([]domain.Video, 0, len(data.Result))
	for _, item := range data.Result {
		if item.Type != "" && item.Type != "video" {
			continue
		}
		videos = append(videos, domain.Video{
			BVID:        item.BVID,
			Title:       CleanTitle(item.Title),
			Author:      item.Author,
			Duration:    item.Duration,
			Plays:       int64(item.Play),
			Description: strings.TrimSpace(item.Description),
			Cover:       absoluteURL(item.Pic),
			URL:         c.profile.VideoPageURL(item.BVID),
		})
		if len(videos) == c.searchCount {
			break
		}
	}

	logging.FromContext(ctx).Debug().Str("keyword", keyword).Int("results", len(videos)).Msg("search completed")
	return videos, nil
}

// ResolveStreams looks up the first page of a video and picks its best
// DASH video and audio streams.
func (c *Client) ResolveStreams(ctx context.Context, bvid string) (domain.StreamPair, error) {
	if !ValidBVID(bvid) {
		return domain.StreamPair{}, fmt.Errorf("%w: invalid bvid %q", domain.ErrValidation, bvid)
	}

	var view viewData
	params := url.Values{}
	params.Set("bvid", bvid)
	if err := c.getJSON(ctx, c.profile.ViewEndpoint, params, &view); err != nil {
		return domain.StreamPair{}, err
	}

	cid := view.CID
	if len(view.Pages) > 0 && view.Pages[0].CID != 0 {
		cid = view.Pages[0].CID
	}
	if cid == 0 {
		return domain.StreamPair{}, fmt.Errorf("bilibili view %s: missing cid", bvid)
	}

	params = url.Values{}
	params.Set("bvid", bvid)
	params.Set("cid", strconv.FormatInt(cid, 10))
	params.Set("fnval", "16")
	params.Set("fourk", "1")

	var play playURLData
	if err := c.getJSON(ctx, c.profile.PlayURLEndpoint, params, &play); err != nil {
		return domain.StreamPair{}, err
	}
	if play.Dash == nil {
		return domain.StreamPair{}, fmt.Errorf("%s: %w", bvid, ErrNoStreams)
	}

	videoStream, okVideo := bestVideo(play.Dash.Video)
	audioStream, okAudio := bestAudio(play.Dash.Audio)
	if !okVideo || !okAudio {
		return domain.StreamPair{}, fmt.Errorf("%s: %w", bvid, ErrNoStreams)
	}

	return domain.StreamPair{
		BVID:            bvid,
		Title:           view.Title,
		DurationSeconds: view.Duration,
		VideoURL:        videoStream.url(),
		AudioURL:        audioStream.url(),
		VideoSize:       videoStream.size(),
		AudioSize:       audioStream.size(),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = c.profile.Headers.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrNetwork, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s: unexpected status %s", domain.ErrNetwork, u.Path, resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", u.Path, err)
	}
	if env.Code != 0 {
		return &APIError{Endpoint: u.Path, Code: env.Code, Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", u.Path, err)
	}
	return nil
}

// CleanTitle strips search highlight markup and unescapes entities.
func CleanTitle(title string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(title, "")))
}

func bestVideo(streams []dashStream) (dashStream, bool) {
	var best dashStream
	found := false
	for _, s := range streams {
		if s.url() == "" {
			continue
		}
		if !found || s.ID > best.ID || (s.ID == best.ID && s.Bandwidth > best.Bandwidth) {
			best = s
			found = true
		}
	}
	return best, found
}

func bestAudio(streams []dashStream) (dashStream, bool) {
	var best dashStream
	found := false
	for _, s := range streams {
		if s.url() == "" {
			continue
		}
		if !found || s.Bandwidth > best.Bandwidth {
			best = s
			found = true
		}
	}
	return best, found
}

func absoluteURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}
