// Package aggregate filters, groups and orders probed channels.
package aggregate

import (
	"bufio"
	"bytes"
	"cmp"
	"math"
	"slices"
	"strings"

	"iptvmerge/src/internal/channel"
)

// IPVersion restricts the address family of stream hosts.
type IPVersion string

const (
	IPAll IPVersion = "all"
	IPv4  IPVersion = "ipv4"
	IPv6  IPVersion = "ipv6"
)

const groupPrefix = "group:"

// Policy controls which channels survive and how they are ordered.
type Policy struct {
	// MaxResponseTime in milliseconds. Slower channels are dropped.
	MaxResponseTime float64
	// MinSpeed in KB/s, 0 disables the check.
	MinSpeed float64

	// IncludeGroups and IncludeChannels are allow-lists. A nil list puts no
	// restriction. When any list is set, a channel survives if its group or
	// its name is listed.
	IncludeGroups   []string
	IncludeChannels []string

	// GroupOrder lists group titles that sort before all others.
	GroupOrder []string

	IPVersion IPVersion
}

// DefaultPolicy keeps every reachable channel.
func DefaultPolicy() Policy {
	return Policy{MaxResponseTime: math.MaxFloat64, IPVersion: IPAll}
}

// Assemble filters channels by the policy, buckets them by group and orders
// groups and channels. Channels inside a group are sorted by ascending
// response time, ties keep their input order.
func Assemble(channels []channel.Channel, policy Policy) []channel.Group {
	var (
		groups []channel.Group
		index  = make(map[string]int)
	)

	allowedGroups := set(policy.IncludeGroups)
	allowedNames := set(policy.IncludeChannels)

	for _, c := range channels {
		if !policy.keep(c, allowedGroups, allowedNames) {
			continue
		}

		title := c.Group()
		i, ok := index[title]
		if !ok {
			i = len(groups)
			index[title] = i
			groups = append(groups, channel.Group{Title: title})
		}
		groups[i].Channels = append(groups[i].Channels, c)
	}

	for _, g := range groups {
		slices.SortStableFunc(g.Channels, func(a, b channel.Channel) int {
			return cmp.Compare(a.ResponseTime, b.ResponseTime)
		})
	}

	priority := make(map[string]int, len(policy.GroupOrder))
	for i, title := range policy.GroupOrder {
		if _, ok := priority[title]; !ok {
			priority[title] = i
		}
	}

	slices.SortStableFunc(groups, func(a, b channel.Group) int {
		pa, aListed := priority[a.Title]
		pb, bListed := priority[b.Title]
		switch {
		case aListed && bListed:
			return pa - pb
		case aListed:
			return -1
		case bListed:
			return 1
		}
		return strings.Compare(a.Title, b.Title)
	})

	return groups
}

func (p Policy) keep(c channel.Channel, groups, names map[string]struct{}) bool {
	if !c.Reachable() || c.ResponseTime > p.MaxResponseTime {
		return false
	}
	if p.MinSpeed > 0 && c.Speed < p.MinSpeed {
		return false
	}

	switch p.IPVersion {
	case IPv4:
		if c.IsIPv6() {
			return false
		}
	case IPv6:
		if !c.IsIPv6() {
			return false
		}
	}

	if groups == nil && names == nil {
		return true
	}
	if _, ok := groups[c.Group()]; ok {
		return true
	}
	_, ok := names[c.Name]
	return ok
}

func set(values []string) map[string]struct{} {
	if values == nil {
		return nil
	}
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// ParseAllowList reads an allow-list file. A line "group:<name>" keeps a
// group, any other non-blank line keeps a channel by name. Lines starting
// with '#' are comments. A list without entries of a kind is returned as nil.
func ParseAllowList(content []byte) (groups, names []string) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, groupPrefix) {
			groups = append(groups, strings.TrimSpace(strings.TrimPrefix(line, groupPrefix)))
			continue
		}
		names = append(names, line)
	}
	return
}
