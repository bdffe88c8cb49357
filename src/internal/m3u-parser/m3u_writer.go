package m3u

import (
	"strings"

	"iptvmerge/src/internal/channel"
)

// WriteOptions tune the serialized playlists.
type WriteOptions struct {
	// ReplayQuery is appended to every M3U stream URL (catch-up parameters).
	ReplayQuery string
	// EPGURL is announced in the M3U header as x-tvg-url.
	EPGURL string
}

// Output holds both serialized playlists.
type Output struct {
	M3U string
	TXT string
}

// Write serializes grouped channels into M3U and TXT playlists. Group and
// channel order is kept as given, except that the TXT playlist lists the
// channels without group before the first #genre# header.
func Write(groups []channel.Group, opts WriteOptions) Output {
	return Output{
		M3U: writeM3U(groups, opts),
		TXT: writeTXT(groups),
	}
}

func writeM3U(groups []channel.Group, opts WriteOptions) string {
	var sb strings.Builder

	sb.WriteString(m3uMarker)
	if opts.EPGURL != "" {
		sb.WriteString(` x-tvg-url="`)
		sb.WriteString(attributeValue(opts.EPGURL))
		sb.WriteByte('"')
	}
	sb.WriteByte('\n')

	for _, g := range groups {
		for _, c := range g.Channels {
			sb.WriteString(extinfTag)
			sb.WriteString(":-1")
			writeAttribute(&sb, "tvg-id", c.TvgID)
			writeAttribute(&sb, "tvg-name", c.TvgName)
			writeAttribute(&sb, "tvg-logo", c.TvgLogo)
			writeAttribute(&sb, "group-title", c.GroupTitle)
			sb.WriteByte(',')
			sb.WriteString(c.Name)
			sb.WriteByte('\n')

			sb.WriteString(replayURL(c.URL, opts.ReplayQuery))
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

func writeAttribute(sb *strings.Builder, key string, value *string) {
	if value == nil {
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteString(`="`)
	sb.WriteString(attributeValue(*value))
	sb.WriteByte('"')
}

// attributeValue keeps a value from closing its quotes early.
func attributeValue(v string) string {
	return strings.ReplaceAll(v, `"`, "'")
}

func replayURL(streamURL, query string) string {
	query = strings.TrimLeft(query, "?&")
	if query == "" {
		return streamURL
	}
	if strings.Contains(streamURL, "?") {
		return streamURL + "&" + query
	}
	return streamURL + "?" + query
}

func writeTXT(groups []channel.Group) string {
	var sb strings.Builder
	var blocks = 0

	writeBlock := func(g channel.Group) {
		if len(g.Channels) == 0 {
			return
		}
		if blocks > 0 {
			sb.WriteByte('\n')
		}
		blocks++

		if g.Title != "" {
			sb.WriteString(g.Title)
			sb.WriteString(",")
			sb.WriteString(genreMarker)
			sb.WriteByte('\n')
		}
		for _, c := range g.Channels {
			sb.WriteString(txtName(c.Name))
			sb.WriteByte(',')
			sb.WriteString(c.URL)
			sb.WriteByte('\n')
		}
	}

	for _, g := range groups {
		if g.Title == "" {
			writeBlock(g)
		}
	}
	for _, g := range groups {
		if g.Title != "" {
			writeBlock(g)
		}
	}

	return sb.String()
}

// txtName keeps a name from ending at a comma, the TXT field separator.
func txtName(name string) string {
	return strings.ReplaceAll(name, ",", "，")
}
