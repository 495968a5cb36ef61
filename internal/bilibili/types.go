package bilibili

import (
	"encoding/json"
	"strconv"
	"strings"
)

// envelope is the common wrapper of every API response.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type searchData struct {
	Result []searchItem `json:"result"`
}

type searchItem struct {
	Type        string  `json:"type"`
	BVID        string  `json:"bvid"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Duration    string  `json:"duration"`
	Play        flexInt `json:"play"`
	Pic         string  `json:"pic"`
	ArcURL      string  `json:"arcurl"`
	Description string  `json:"description"`
}

type viewData struct {
	BVID     string     `json:"bvid"`
	Title    string     `json:"title"`
	Duration int        `json:"duration"`
	CID      int64      `json:"cid"`
	Pages    []viewPage `json:"pages"`
}

type viewPage struct {
	CID      int64  `json:"cid"`
	Page     int    `json:"page"`
	Part     string `json:"part"`
	Duration int    `json:"duration"`
}

type playURLData struct {
	Dash *dashInfo `json:"dash"`
}

type dashInfo struct {
	Video []dashStream `json:"video"`
	Audio []dashStream `json:"audio"`
}

type dashStream struct {
	ID        int      `json:"id"`
	BaseURL   string   `json:"baseUrl"`
	BaseURL2  string   `json:"base_url"`
	BackupURL []string `json:"backupUrl"`
	Bandwidth int64    `json:"bandwidth"`
	Size      flexInt  `json:"size"`
	Codecs    string   `json:"codecs"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
}

// size returns the byte size when the response carries one.
func (s dashStream) size() *int64 {
	if s.Size <= 0 {
		return nil
	}
	n := int64(s.Size)
	return &n
}

func (s dashStream) url() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	if s.BaseURL2 != "" {
		return s.BaseURL2
	}
	if len(s.BackupURL) > 0 {
		return s.BackupURL[0]
	}
	return ""
}

// flexInt accepts numbers, numeric strings and placeholders like "--".
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" || raw == "--" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}
