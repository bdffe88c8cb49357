// Package m3u reads and writes the two playlist formats understood by the
// aggregator: extended M3U and the line oriented "name,url" TXT format.
package m3u

import (
	"strings"

	"iptvmerge/src/internal/channel"
)

const (
	m3uMarker   = "#EXTM3U"
	extinfTag   = "#EXTINF"
	extGrpTag   = "#EXTGRP:"
	genreMarker = "#genre#"
)

// Parse turns playlist content into channels. Content containing #EXTM3U is
// read as M3U, anything else as TXT. Malformed entries are skipped.
func Parse(content []byte) []channel.Channel {
	var text = string(content)

	if strings.Contains(text, m3uMarker) {
		return parseM3U(text)
	}
	return parseTXT(text)
}

// IsM3U reports whether content would be parsed as M3U.
func IsM3U(content []byte) bool {
	return strings.Contains(string(content), m3uMarker)
}

func parseM3U(content string) (channels []channel.Channel) {
	var pending *channel.Channel
	var lastExtGrp string

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(strings.TrimRight(rawLine, "\r"))
		if len(line) == 0 {
			continue
		}

		switch {
		case strings.HasPrefix(line, extinfTag):
			// A previous EXTINF without URL line is dropped here.
			pending = parseExtinf(line)

		case strings.HasPrefix(line, extGrpTag):
			lastExtGrp = strings.TrimSpace(strings.TrimPrefix(line, extGrpTag))
			if pending != nil && pending.GroupTitle == nil && lastExtGrp != "" {
				pending.GroupTitle = channel.String(lastExtGrp)
			}

		case line[0] == '#':
			// Other directives (#EXTVLCOPT, #KODIPROP, ...) may sit between
			// EXTINF and URL.

		default:
			if pending == nil {
				continue
			}
			pending.URL = line
			if pending.GroupTitle == nil && lastExtGrp != "" {
				pending.GroupTitle = channel.String(lastExtGrp)
			}
			channels = append(channels, *pending)
			pending = nil
		}
	}
	return
}

// parseExtinf builds a channel without URL from an EXTINF line, nil when the
// line carries no usable name.
func parseExtinf(line string) *channel.Channel {
	var params = strings.TrimPrefix(line, extinfTag)

	attributes := parseAttributes(params)

	name := channelName(params)
	if name == "" {
		name = strings.TrimSpace(attributes["tvg-name"])
	}
	if name == "" {
		return nil
	}

	c := channel.New(name, "")
	c.TvgID = optional(attributes, "tvg-id")
	c.TvgName = optional(attributes, "tvg-name")
	c.TvgLogo = optional(attributes, "tvg-logo")
	c.GroupTitle = optional(attributes, "group-title")
	return &c
}

func optional(attributes map[string]string, key string) *string {
	if v, ok := attributes[key]; ok {
		return channel.String(v)
	}
	return nil
}

func parseTXT(content string) (channels []channel.Channel) {
	var group *string

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(strings.TrimRight(rawLine, "\r"))
		if len(line) == 0 {
			continue
		}

		if strings.HasSuffix(line, genreMarker) {
			title := strings.TrimSpace(strings.TrimSuffix(line, genreMarker))
			title = strings.TrimSpace(strings.TrimSuffix(title, ","))
			group = channel.String(title)
			continue
		}

		idx := strings.IndexByte(line, ',')
		if idx <= 0 {
			continue
		}

		name := strings.TrimSpace(line[:idx])
		if name == "" {
			continue
		}

		for _, streamURL := range streamURLs(line[idx+1:]) {
			c := channel.New(name, streamURL)
			if group != nil {
				c.GroupTitle = channel.String(*group)
			}
			channels = append(channels, c)
		}
	}
	return
}

// streamURLs splits the URL field of a TXT line. Several URLs of one channel
// may be joined with '#'; a '#' not followed by a URL belongs to the URL
// before it.
func streamURLs(field string) (urls []string) {
	for _, piece := range strings.Split(field, "#") {
		switch {
		case hasScheme(strings.TrimSpace(piece)):
			urls = append(urls, piece)
		case len(urls) > 0:
			urls[len(urls)-1] += "#" + piece
		}
	}

	for i := range urls {
		urls[i] = strings.TrimSpace(urls[i])
	}
	return
}

// hasScheme reports whether s starts with "scheme://".
func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		case i > 0 && c == ':':
			return strings.HasPrefix(s[i:], "://")
		default:
			return false
		}
	}
	return false
}
