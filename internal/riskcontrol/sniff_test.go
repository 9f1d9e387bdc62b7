package riskcontrol

import (
	"net/http"
	"testing"

	"github.com/bilisync/bilisync/internal/bilierr"
)

func TestSniffHTMLRecognizesSentinel(t *testing.T) {
	body := []byte(`<html><head><title>安全验证</title></head><body>访问验证，请稍后重试</body></html>`)
	err, ok := SniffHTML("list_favorites", body)
	if !ok {
		t.Fatalf("expected sentinel page to be recognized")
	}
	if _, isRC := err.(*bilierr.RiskControl); !isRC {
		t.Fatalf("expected *bilierr.RiskControl, got %T", err)
	}
}

func TestSniffHTMLIgnoresUnrelatedPage(t *testing.T) {
	body := []byte(`<html><head><title>Not Found</title></head><body>nothing to see here</body></html>`)
	_, ok := SniffHTML("list_favorites", body)
	if ok {
		t.Fatalf("expected unrelated HTML page to not be classified as risk control")
	}
}

func TestClassifyResponseJSONSentinelCode(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Content-Type": []string{"application/json"}}}
	body := []byte(`{"code":-352,"message":"risk control"}`)
	err := ClassifyResponse("video_detail", resp, body)
	if _, ok := err.(*bilierr.RiskControl); !ok {
		t.Fatalf("expected *bilierr.RiskControl from JSON -352 code, got %T", err)
	}
}

func TestClassifyResponseHTMLContentType(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}}
	body := []byte(`<html><body>请求过于频繁，请稍后再试</body></html>`)
	err := ClassifyResponse("stream_manifest", resp, body)
	if _, ok := err.(*bilierr.RiskControl); !ok {
		t.Fatalf("expected *bilierr.RiskControl from HTML sentinel, got %T", err)
	}
}

func TestClassifyResponseNormalJSONIsNil(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Content-Type": []string{"application/json"}}}
	body := []byte(`{"code":0,"data":{}}`)
	if err := ClassifyResponse("video_detail", resp, body); err != nil {
		t.Fatalf("expected nil for normal response, got %v", err)
	}
}
