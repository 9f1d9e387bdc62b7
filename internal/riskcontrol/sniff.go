package riskcontrol

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bilisync/bilisync/internal/bilierr"
)

// sentinelMarkers lists the text fragments bilibili's HTML interstitials
// carry when a client is rate-limited or flagged for anti-abuse review,
// in lieu of the expected JSON body. This is the same "site sent us a
// block page instead of data" situation AVMC's BlockedError models for
// JavDB/JavBus's "driver-verify" redirect — here the signal arrives as
// HTML body content rather than a redirect Location header.
var sentinelMarkers = []string{
	"访问验证",
	"哔哩哔哩暂时没有数据",
	"安全验证",
	"请求过于频繁",
}

// SniffHTML inspects a response body that was expected to be JSON but
// came back as HTML, and classifies it as RiskControl when it carries one
// of the known anti-abuse interstitial markers. It returns (nil, false)
// when the body doesn't look like a recognized sentinel page at all, so
// the caller can fall back to a generic NetworkPermanent.
func SniffHTML(op string, body []byte) (error, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}

	text := strings.TrimSpace(doc.Find("body").Text())
	if text == "" {
		return nil, false
	}
	for _, marker := range sentinelMarkers {
		if strings.Contains(text, marker) {
			return &bilierr.RiskControl{Op: op}, true
		}
	}

	// A <title> match is a weaker but still useful signal, covering pages
	// whose visible body is mostly JS-rendered and empty server-side.
	title := strings.TrimSpace(doc.Find("title").Text())
	for _, marker := range sentinelMarkers {
		if strings.Contains(title, marker) {
			return &bilierr.RiskControl{Op: op}, true
		}
	}
	return nil, false
}

// ClassifyResponse is the entry point the chunked downloader and client
// implementations call after receiving a non-2xx or unexpectedly-HTML
// response: it recognizes bilibili's explicit application-level -352 code
// when present in a JSON error envelope's Content-Type-agnostic body, and
// otherwise falls through to the HTML sniffer.
func ClassifyResponse(op string, resp *http.Response, body []byte) error {
	if bytes.Contains(body, []byte(`"code":-352`)) || bytes.Contains(body, []byte(`"code": -352`)) {
		return &bilierr.RiskControl{Op: op}
	}
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") || looksLikeHTML(body) {
		if err, ok := SniffHTML(op, body); ok {
			return err
		}
	}
	return nil
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<!DOCTYPE")) || bytes.HasPrefix(trimmed, []byte("<html"))
}
