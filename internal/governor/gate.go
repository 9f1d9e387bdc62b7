package governor

import (
	"context"
	"net/http"
	"time"

	"github.com/bilisync/bilisync/internal/client"
)

// gatedTransport makes every request issued through it count against the
// Governor's global HTTP tier (spec.md §4.7's outermost tier), independent
// of which package holds the *http.Client — the Chunked Downloader's
// probe/chunk/stream requests and Materialization's small direct fetches
// (poster, thumbnail, avatar, subtitle body) all end up sharing the same
// cap this way, without either package importing governor directly.
type gatedTransport struct {
	next http.RoundTripper
	g    *Governor
}

func (t *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.g.AcquireGlobal(req.Context()); err != nil {
		return nil, err
	}
	defer t.g.ReleaseGlobal()
	return t.next.RoundTrip(req)
}

// GatedTransport wraps next (http.DefaultTransport if nil) so its requests
// are bounded by g's global tier.
func GatedTransport(next http.RoundTripper, g *Governor) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &gatedTransport{next: next, g: g}
}

// gatedClient decorates the out-of-scope client.Client collaborator
// (spec.md §6) so every listing/detail/manifest/danmaku/subtitles call
// also acquires the same global permit the gated transport enforces for
// direct CDN fetches — one accounting scheme for every outbound request
// this system issues, credentialed or not.
type gatedClient struct {
	inner client.Client
	g     *Governor
}

// GateClient wraps inner with the Governor's global HTTP tier.
func GateClient(inner client.Client, g *Governor) client.Client {
	return &gatedClient{inner: inner, g: g}
}

func (c *gatedClient) gate(ctx context.Context, fn func() error) error {
	if err := c.g.AcquireGlobal(ctx); err != nil {
		return err
	}
	defer c.g.ReleaseGlobal()
	return fn()
}

func (c *gatedClient) Whoami(ctx context.Context) error {
	return c.gate(ctx, func() error { return c.inner.Whoami(ctx) })
}

func (c *gatedClient) ListFavorites(ctx context.Context, mediaID int64, page int) ([]client.ListingDescriptor, bool, error) {
	var out []client.ListingDescriptor
	var more bool
	err := c.gate(ctx, func() error {
		var innerErr error
		out, more, innerErr = c.inner.ListFavorites(ctx, mediaID, page)
		return innerErr
	})
	return out, more, err
}

func (c *gatedClient) ListCollection(ctx context.Context, collectionID, mid int64, page int) ([]client.ListingDescriptor, bool, error) {
	var out []client.ListingDescriptor
	var more bool
	err := c.gate(ctx, func() error {
		var innerErr error
		out, more, innerErr = c.inner.ListCollection(ctx, collectionID, mid, page)
		return innerErr
	})
	return out, more, err
}

func (c *gatedClient) ListSubmissionsLegacy(ctx context.Context, mid int64, page int) ([]client.ListingDescriptor, bool, error) {
	var out []client.ListingDescriptor
	var more bool
	err := c.gate(ctx, func() error {
		var innerErr error
		out, more, innerErr = c.inner.ListSubmissionsLegacy(ctx, mid, page)
		return innerErr
	})
	return out, more, err
}

func (c *gatedClient) ListSubmissionsCursor(ctx context.Context, mid int64, cursor time.Time) ([]client.ListingDescriptor, bool, error) {
	var out []client.ListingDescriptor
	var more bool
	err := c.gate(ctx, func() error {
		var innerErr error
		out, more, innerErr = c.inner.ListSubmissionsCursor(ctx, mid, cursor)
		return innerErr
	})
	return out, more, err
}

func (c *gatedClient) ListWatchLater(ctx context.Context) ([]client.ListingDescriptor, error) {
	var out []client.ListingDescriptor
	err := c.gate(ctx, func() error {
		var innerErr error
		out, innerErr = c.inner.ListWatchLater(ctx)
		return innerErr
	})
	return out, err
}

func (c *gatedClient) VideoDetail(ctx context.Context, bvid string) (client.VideoDetail, error) {
	var out client.VideoDetail
	err := c.gate(ctx, func() error {
		var innerErr error
		out, innerErr = c.inner.VideoDetail(ctx, bvid)
		return innerErr
	})
	return out, err
}

func (c *gatedClient) StreamManifest(ctx context.Context, bvid string, cid int64) (client.StreamManifest, error) {
	var out client.StreamManifest
	err := c.gate(ctx, func() error {
		var innerErr error
		out, innerErr = c.inner.StreamManifest(ctx, bvid, cid)
		return innerErr
	})
	return out, err
}

func (c *gatedClient) Danmaku(ctx context.Context, cid int64) (client.DanmakuStream, error) {
	var out client.DanmakuStream
	err := c.gate(ctx, func() error {
		var innerErr error
		out, innerErr = c.inner.Danmaku(ctx, cid)
		return innerErr
	})
	return out, err
}

func (c *gatedClient) Subtitles(ctx context.Context, bvid string, cid int64) ([]client.SubtitleTrack, error) {
	var out []client.SubtitleTrack
	err := c.gate(ctx, func() error {
		var innerErr error
		out, innerErr = c.inner.Subtitles(ctx, bvid, cid)
		return innerErr
	})
	return out, err
}

var _ client.Client = (*gatedClient)(nil)
