// Package channel holds the channel record shared by every stage of the
// aggregation pipeline and the cross-source deduplication step.
package channel

import (
	"math"
	"net"
	"net/url"
)

// Unreachable is the response time of a channel that has not been probed
// successfully.
var Unreachable = math.Inf(1)

// Channel is one playable entry of a playlist.
type Channel struct {
	Name       string
	URL        string
	TvgID      *string
	TvgName    *string
	TvgLogo    *string
	GroupTitle *string

	// ResponseTime is the mean latency of successful probes in milliseconds.
	ResponseTime float64
	// Speed is the measured throughput in KB/s, 0 when not measured.
	Speed float64
}

// Group is a category bucket of ordered channels.
type Group struct {
	Title    string
	Channels []Channel
}

// New returns a channel that has not been probed yet.
func New(name, streamURL string) Channel {
	return Channel{Name: name, URL: streamURL, ResponseTime: Unreachable}
}

// String returns a pointer to s, for the optional attributes.
func String(s string) *string {
	return &s
}

// Group returns the category of the channel, "" when it has none.
func (c Channel) Group() string {
	if c.GroupTitle == nil {
		return ""
	}
	return *c.GroupTitle
}

// Reachable reports whether at least one probe succeeded.
func (c Channel) Reachable() bool {
	return !math.IsInf(c.ResponseTime, 1)
}

// Improve records a successful measurement. A slower result never replaces a
// faster one.
func (c *Channel) Improve(responseTime, speed float64) {
	if math.IsNaN(responseTime) || responseTime < 0 {
		return
	}
	if responseTime < c.ResponseTime {
		c.ResponseTime = responseTime
		c.Speed = speed
	}
}

// IsIPv6 reports whether the stream host is an IPv6 literal.
func (c Channel) IsIPv6() bool {
	u, err := url.Parse(c.URL)
	if err != nil {
		return false
	}
	ip := net.ParseIP(u.Hostname())
	return ip != nil && ip.To4() == nil
}

// Merge concatenates the channel lists in order and keeps the first channel
// seen for every stream URL.
func Merge(lists [][]Channel) []Channel {
	var total int
	for _, l := range lists {
		total += len(l)
	}

	seen := make(map[string]struct{}, total)
	merged := make([]Channel, 0, total)
	for _, l := range lists {
		for _, c := range l {
			if c.URL == "" {
				continue
			}
			if _, ok := seen[c.URL]; ok {
				continue
			}
			seen[c.URL] = struct{}{}
			merged = append(merged, c)
		}
	}
	return merged
}
