package materialize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// subtitleBody mirrors bilibili's subtitle JSON list: a flat array of
// timed cues, each with a start/end offset in seconds and its text.
type subtitleBody struct {
	Body []struct {
		From    float64 `json:"from"`
		To      float64 `json:"to"`
		Content string  `json:"content"`
	} `json:"body"`
}

func formatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds * 1000)
	ms := total % 1000
	total /= 1000
	s := total % 60
	total /= 60
	m := total % 60
	total /= 60
	h := total
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// EncodeSubtitleSRT converts one subtitle track's JSON cue list into
// SubRip (.srt) text, spec.md §6's `{name}.{lang}.srt` file.
func EncodeSubtitleSRT(jsonBody []byte) ([]byte, error) {
	var doc subtitleBody
	if err := json.Unmarshal(jsonBody, &doc); err != nil {
		return nil, fmt.Errorf("materialize: parse subtitle json: %w", err)
	}

	var b strings.Builder
	for i, cue := range doc.Body {
		text := strings.TrimSpace(cue.Content)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTimestamp(cue.From), formatSRTTimestamp(cue.To), text)
	}
	return []byte(b.String()), nil
}
