package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bilisync/bilisync/internal/bilierr"
)

func newTestHTTPClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.Client(), "test-sessdata")
	c.baseURL = srv.URL
	c.retries = 0
	return c, srv
}

func TestWhoamiReturnsRiskControlWhenNotLoggedIn(t *testing.T) {
	c, _ := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"ok","data":{"isLogin":false}}`))
	})
	err := c.Whoami(context.Background())
	if _, ok := err.(*bilierr.RiskControl); !ok {
		t.Fatalf("expected RiskControl, got %v (%T)", err, err)
	}
}

func TestWhoamiSucceedsWhenLoggedIn(t *testing.T) {
	c, _ := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"ok","data":{"isLogin":true}}`))
	})
	if err := c.Whoami(context.Background()); err != nil {
		t.Fatalf("whoami: %v", err)
	}
}

func TestGetClassifiesRiskControlCode(t *testing.T) {
	c, _ := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-352,"message":"risk control"}`))
	})
	_, err := c.VideoDetail(context.Background(), "BV1xxx")
	if _, ok := err.(*bilierr.RiskControl); !ok {
		t.Fatalf("expected RiskControl, got %v (%T)", err, err)
	}
}

func TestVideoDetailReturnsUpstreamRedirect(t *testing.T) {
	c, _ := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"ok","data":{"redirect_url":"https://www.bilibili.com/blackboard/"}}`))
	})
	_, err := c.VideoDetail(context.Background(), "BV1xxx")
	redirect, ok := err.(*bilierr.UpstreamRedirect)
	if !ok {
		t.Fatalf("expected UpstreamRedirect, got %v (%T)", err, err)
	}
	if redirect.Target != "https://www.bilibili.com/blackboard/" {
		t.Fatalf("unexpected target %q", redirect.Target)
	}
}

func TestVideoDetailParsesPages(t *testing.T) {
	c, _ := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"ok","data":{
			"pic":"https://cover.example/x.jpg",
			"tag_name":"gaming",
			"pages":[{"page":1,"part":"intro","duration":120,"cid":9001,"first_frame":"https://thumb.example/1.jpg"}]
		}}`))
	})
	detail, err := c.VideoDetail(context.Background(), "BV1xxx")
	if err != nil {
		t.Fatalf("video detail: %v", err)
	}
	if len(detail.Pages) != 1 || detail.Pages[0].CID != 9001 {
		t.Fatalf("unexpected pages: %+v", detail.Pages)
	}
	if detail.CoverURL != "https://cover.example/x.jpg" {
		t.Fatalf("unexpected cover url %q", detail.CoverURL)
	}
}

func TestStreamManifestParsesSeparateDashTracks(t *testing.T) {
	c, _ := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"ok","data":{
			"dash":{"video":[{"base_url":"https://v.example/1.m4s","id":120,"codecid":7}],"audio":[{"base_url":"https://a.example/1.m4s","id":30280,"codecid":0}]}
		}}`))
	})
	manifest, err := c.StreamManifest(context.Background(), "BV1xxx", 9001)
	if err != nil {
		t.Fatalf("stream manifest: %v", err)
	}
	if manifest.Mixed {
		t.Fatalf("expected non-mixed manifest")
	}
	if len(manifest.VideoTracks) != 1 || len(manifest.AudioTracks) != 1 {
		t.Fatalf("unexpected track counts: %+v", manifest)
	}
}

func TestListFavoritesMapsHasMore(t *testing.T) {
	c, _ := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"ok","data":{
			"medias":[{"bvid":"BV1aaa","aid":1,"title":"clip","pubtime":1000,"upper":{"mid":5,"name":"someone","face":"https://a.example/f.jpg"}}],
			"has_more":true
		}}`))
	})
	listings, hasMore, err := c.ListFavorites(context.Background(), 555, 1)
	if err != nil {
		t.Fatalf("list favorites: %v", err)
	}
	if !hasMore {
		t.Fatalf("expected has_more=true")
	}
	if len(listings) != 1 || listings[0].BVID != "BV1aaa" {
		t.Fatalf("unexpected listings: %+v", listings)
	}
}

func TestGetReturnsUpstreamNotFoundOn404(t *testing.T) {
	c, _ := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.VideoDetail(context.Background(), "BV1xxx")
	if _, ok := err.(*bilierr.UpstreamNotFound); !ok {
		t.Fatalf("expected UpstreamNotFound, got %v (%T)", err, err)
	}
}
