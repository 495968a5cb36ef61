package bot

import (
	"fmt"
	"strconv"
	"strings"

	"video-search-bot/internal/domain"
)

// FormatResults renders search hits as a numbered Markdown list.
func FormatResults(videos []domain.Video) string {
	var b strings.Builder
	b.WriteString("### Search results\n\n")
	for i, v := range videos {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, v.Title)
		fmt.Fprintf(&b, "   UP: %s | Duration: %s | Plays: %s\n", v.Author, v.Duration, formatCount(v.Plays))
	}
	b.WriteString("\nReply with a number to download.")
	return b.String()
}

func formatCount(n int64) string {
	switch {
	case n >= 100_000_000:
		return strconv.FormatFloat(float64(n)/100_000_000, 'f', 1, 64) + "e8"
	case n >= 10_000:
		return strconv.FormatFloat(float64(n)/10_000, 'f', 1, 64) + "w"
	default:
		return strconv.FormatInt(n, 10)
	}
}

// ParseDuration converts "SS", "MM:SS" or "HH:MM:SS" into seconds.
// An empty string is zero.
func ParseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: duration %q has too many fields", domain.ErrValidation, s)
	}

	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: duration %q is not numeric", domain.ErrValidation, s)
		}
		total = total*60 + n
	}
	return total, nil
}
