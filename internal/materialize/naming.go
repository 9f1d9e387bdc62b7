// Package materialize implements the Materialization Stage of spec.md
// §4.6: for each eligible video, plan and execute a set of status-gated
// tasks (poster, series/episode NFOs, danmaku, subtitles, and the media
// file itself), laying files out per spec.md §6.
//
// Grounded on AVMC's internal/app/run.execOne: fetch/derive one sidecar
// at a time, write it through fsx's atomic discipline, and only "commit"
// (here: advance the status word) once the artifact is actually on
// disk. AVMC's planner decides once, up front, which sidecars are
// missing (SidecarNeed); this package makes that same decision per
// field via statuscode.ShouldRun instead of a boolean struct, since a
// field can independently be Ok/Retry/Failed rather than only
// present/absent.
package materialize

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/bilisync/bilisync/internal/domain"
)

// TemplateArgs is the substitution set spec.md's SPEC_FULL expansion
// asks this stage to assemble (mirroring original_source's
// utils/format_arg.rs), even though the templater that would let a user
// override file naming is out of scope (spec.md §1). defaultEpisodeNameTmpl
// and defaultSingleNameTmpl below are the built-in default templates this
// stage actually uses, rendered by EpisodeBaseName and SingleBaseName; a
// richer, user-configurable templater would consume the same TemplateArgs
// instead of these two templates.
type TemplateArgs struct {
	UpperName   string // sanitized video title, safe as a filesystem name
	Title       string
	Username    string
	PubTime     string // YYYY-MM-DD
	SeasonTitle string
	Episode     int
}

const (
	defaultEpisodeNameTmpl = `{{.UpperName}} - S01E{{printf "%02d" .Episode}}`
	defaultSingleNameTmpl  = `{{.UpperName}}`
)

var (
	episodeNameTemplate = template.Must(template.New("episode").Parse(defaultEpisodeNameTmpl))
	singleNameTemplate  = template.Must(template.New("single").Parse(defaultSingleNameTmpl))

	// invalidNameChars covers the characters that are illegal (or
	// merely surprising) in a filename on either a Unix media server or
	// the Windows/SMB clients that often mount it.
	invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
)

// SanitizeName strips or replaces characters spec.md's layout can't
// safely place in a path component. Applied once, at the point a video
// or publisher's display title becomes a filename fragment.
func SanitizeName(raw string) string {
	s := invalidNameChars.ReplaceAllString(raw, "_")
	s = strings.TrimRight(s, " .")
	s = strings.TrimSpace(s)
	if s == "" {
		return "untitled"
	}
	return s
}

// ArgsForVideo builds the TemplateArgs for one video, independent of
// which page (if any) is being named.
func ArgsForVideo(v domain.Video) TemplateArgs {
	return TemplateArgs{
		UpperName:   SanitizeName(v.Title),
		Title:       v.Title,
		Username:    v.Publisher.Name,
		PubTime:     v.PublishedAt.Format("2006-01-02"),
		SeasonTitle: v.SeasonTitle,
	}
}

func render(tmpl *template.Template, args TemplateArgs) string {
	var b strings.Builder
	if err := tmpl.Execute(&b, args); err != nil {
		// The two built-in templates are fixed, valid, and args always
		// satisfies their field set — a render failure here means a
		// template literal was edited into something invalid, which is
		// a programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("materialize: render template: %v", err))
	}
	return b.String()
}

// SingleBaseName returns the {name} base (no extension) for a
// single-page video (spec.md §6: "{name}.mp4" etc. directly under root).
func SingleBaseName(v domain.Video) string {
	return render(singleNameTemplate, ArgsForVideo(v))
}

// EpisodeBaseName returns the "{name} - S01E{NN}" base (no extension)
// for one page of a multi-page video.
func EpisodeBaseName(v domain.Video, p domain.Page) string {
	args := ArgsForVideo(v)
	args.Episode = p.Index
	return render(episodeNameTemplate, args)
}

// PublisherDir is the shared, cross-subscription publisher asset
// directory spec.md §6 places one level above every subscription root:
// {upper_root}/{publisher_id}/.
func PublisherDir(subscriptionRoot string, publisherMid int64) string {
	upper := filepath.Dir(filepath.Clean(subscriptionRoot))
	return filepath.Join(upper, fmt.Sprintf("%d", publisherMid))
}

// SeasonDir is the "Season 1" directory spec.md §6 places every
// multi-page video's per-page artifacts under. Bilibili's own
// season/episode structure inside a Collection is represented by which
// Video a page belongs to, not by season numbers on individual pages
// (see nfo.EncodeEpisode), so there is always exactly one season
// directory per multi-page video.
func SeasonDir(videoRoot string) string {
	return filepath.Join(videoRoot, "Season 1")
}
