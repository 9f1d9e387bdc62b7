package materialize

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// danmakuXML mirrors the shape of bilibili's comment-stream XML: one
// <d p="appear,mode,size,color,sent_at,pool,userhash,rowid">text</d>
// element per comment.
type danmakuXML struct {
	Comments []struct {
		P    string `xml:"p,attr"`
		Text string `xml:",chardata"`
	} `xml:"d"`
}

// danmakuComment is one parsed comment, ready to render as an ASS
// Dialogue event.
type danmakuComment struct {
	appearSeconds float64
	mode          int
	colorBGR      uint32
	text          string
}

const (
	modeBottom = 4
	modeTop    = 5
)

// parseDanmakuXML decodes bilibili's danmaku XML into comments sorted by
// appearance time, skipping any element whose p attribute doesn't parse
// (a malformed single comment must not fail the whole track).
func parseDanmakuXML(raw []byte) ([]danmakuComment, error) {
	var doc danmakuXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("materialize: parse danmaku xml: %w", err)
	}

	out := make([]danmakuComment, 0, len(doc.Comments))
	for _, d := range doc.Comments {
		fields := strings.Split(d.P, ",")
		if len(fields) < 4 {
			continue
		}
		appear, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		mode, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		colorDec, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			continue
		}
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		out = append(out, danmakuComment{
			appearSeconds: appear,
			mode:          mode,
			colorBGR:      rgbToBGR(uint32(colorDec)),
			text:          escapeASS(text),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].appearSeconds < out[j].appearSeconds })
	return out, nil
}

// rgbToBGR converts bilibili's decimal 0xRRGGBB color into ASS's
// &HBBGGRR& ordering.
func rgbToBGR(rgb uint32) uint32 {
	r := (rgb >> 16) & 0xff
	g := (rgb >> 8) & 0xff
	b := rgb & 0xff
	return b<<16 | g<<8 | r
}

func escapeASS(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, "\n", `\N`)
	text = strings.ReplaceAll(text, "{", `\{`)
	text = strings.ReplaceAll(text, "}", `\}`)
	return text
}

func formatASSTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds * 100)
	cs := total % 100
	total /= 100
	s := total % 60
	total /= 60
	m := total % 60
	total /= 60
	h := total
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// scrollDurationSeconds and fixedDurationSeconds are how long a comment
// stays visible once it appears — bilibili's own players default scroll
// comments to roughly 8s of screen time and top/bottom comments to
// roughly 4s; this package doesn't render actual scroll motion (that
// needs the video's pixel width, which the manifest doesn't carry), so
// every comment is placed as a static line for its dwell time instead.
const (
	scrollDurationSeconds = 8.0
	fixedDurationSeconds  = 4.0
)

func dwellSeconds(mode int) float64 {
	if mode == modeTop || mode == modeBottom {
		return fixedDurationSeconds
	}
	return scrollDurationSeconds
}

func alignmentFor(mode int) int {
	switch mode {
	case modeTop:
		return 8 // top-center
	case modeBottom:
		return 2 // bottom-center
	default:
		return 8 // scrolling comments render top-anchored, stacked by appearance order
	}
}

const assHeader = `[Script Info]
Title: bilisync danmaku overlay
ScriptType: v4.00+
WrapStyle: 2
PlayResX: 1920
PlayResY: 1080
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Danmaku,sans-serif,48,&H00FFFFFF,&H000000FF,&H00000000,&H64000000,0,0,0,0,100,100,0,0,1,1,1,8,20,20,20,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// EncodeDanmakuASS converts bilibili's danmaku XML stream into a
// Substation-Alpha (.ass) subtitle track — the "rendered here as a
// subtitle-format file" treatment the glossary describes.
func EncodeDanmakuASS(xmlBody []byte) ([]byte, error) {
	comments, err := parseDanmakuXML(xmlBody)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(assHeader)
	for _, c := range comments {
		start := formatASSTimestamp(c.appearSeconds)
		end := formatASSTimestamp(c.appearSeconds + dwellSeconds(c.mode))
		color := fmt.Sprintf(`&H%06X&`, c.colorBGR)
		text := fmt.Sprintf(`{\an%d\c%s}%s`, alignmentFor(c.mode), color, c.text)
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Danmaku,,0,0,0,,%s\n", start, end, text)
	}
	return []byte(b.String()), nil
}
