package aggregate

import (
	"testing"

	"iptvmerge/src/internal/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probed(name, url, group string, responseTime float64) channel.Channel {
	c := channel.New(name, url)
	if group != "" {
		c.GroupTitle = channel.String(group)
	}
	c.Improve(responseTime, 0)
	return c
}

func names(g channel.Group) []string {
	var out []string
	for _, c := range g.Channels {
		out = append(out, c.Name)
	}
	return out
}

func titles(groups []channel.Group) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g.Title)
	}
	return out
}

func TestAssemble_SortsByResponseTime(t *testing.T) {
	channels := []channel.Channel{
		probed("CNN", "http://a", "News", 1200),
		probed("BBC", "http://b", "News", 500),
	}

	groups := Assemble(channels, DefaultPolicy())

	require.Len(t, groups, 1)
	assert.Equal(t, "News", groups[0].Title)
	assert.Equal(t, []string{"BBC", "CNN"}, names(groups[0]))
}

func TestAssemble_StableTies(t *testing.T) {
	channels := []channel.Channel{
		probed("C", "http://c", "G", 300),
		probed("A", "http://a", "G", 100),
		probed("B", "http://b", "G", 300),
		probed("D", "http://d", "G", 100),
	}

	groups := Assemble(channels, DefaultPolicy())

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"A", "D", "C", "B"}, names(groups[0]))
	for i := 1; i < len(groups[0].Channels); i++ {
		assert.LessOrEqual(t, groups[0].Channels[i-1].ResponseTime, groups[0].Channels[i].ResponseTime)
	}
}

func TestAssemble_Threshold(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxResponseTime = 1000

	channels := []channel.Channel{
		probed("Fast", "http://a", "News", 999),
		probed("Edge", "http://b", "News", 1000),
		probed("Slow", "http://c", "Priority", 1000.5),
		channel.New("Dead", "http://d"),
	}
	policy.GroupOrder = []string{"Priority"}

	groups := Assemble(channels, policy)

	require.Len(t, groups, 1, "Groups left without channels are not emitted")
	assert.Equal(t, []string{"Fast", "Edge"}, names(groups[0]))
}

func TestAssemble_UnreachableNeverSurvives(t *testing.T) {
	groups := Assemble([]channel.Channel{channel.New("Dead", "http://d")}, DefaultPolicy())
	assert.Empty(t, groups)
}

func TestAssemble_GroupOrder(t *testing.T) {
	channels := []channel.Channel{
		probed("1", "http://1", "Sports", 10),
		probed("2", "http://2", "", 10),
		probed("3", "http://3", "Movies", 10),
		probed("4", "http://4", "News", 10),
		probed("5", "http://5", "Kids", 10),
	}

	t.Run("natural order", func(t *testing.T) {
		groups := Assemble(channels, DefaultPolicy())
		assert.Equal(t, []string{"", "Kids", "Movies", "News", "Sports"}, titles(groups))
	})

	t.Run("priority first", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.GroupOrder = []string{"News", "Missing", "Sports", "News"}

		groups := Assemble(channels, policy)
		assert.Equal(t, []string{"News", "Sports", "", "Kids", "Movies"}, titles(groups))
	})
}

func TestAssemble_AllowLists(t *testing.T) {
	channels := []channel.Channel{
		probed("CNN", "http://a", "News", 10),
		probed("BBC", "http://b", "News", 20),
		probed("ESPN", "http://c", "Sports", 10),
		probed("Cartoon", "http://d", "Kids", 10),
	}

	tests := []struct {
		name      string
		groups    []string
		channels  []string
		wantNames []string
	}{
		{name: "no lists", wantNames: []string{"Cartoon", "CNN", "BBC", "ESPN"}},
		{name: "groups only", groups: []string{"News"}, wantNames: []string{"CNN", "BBC"}},
		{name: "channels only", channels: []string{"ESPN", "Unknown"}, wantNames: []string{"ESPN"}},
		{name: "union", groups: []string{"Kids"}, channels: []string{"BBC"}, wantNames: []string{"Cartoon", "BBC"}},
		{name: "empty list restricts everything", groups: []string{}, wantNames: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPolicy()
			policy.IncludeGroups = tt.groups
			policy.IncludeChannels = tt.channels

			var got []string
			for _, g := range Assemble(channels, policy) {
				got = append(got, names(g)...)
			}
			assert.Equal(t, tt.wantNames, got)
		})
	}
}

func TestAssemble_IPVersion(t *testing.T) {
	channels := []channel.Channel{
		probed("v4", "http://10.0.0.1/a", "", 10),
		probed("v6", "http://[2001:db8::1]/b", "", 10),
		probed("host", "http://example.com/c", "", 10),
	}

	tests := []struct {
		version IPVersion
		want    []string
	}{
		{IPAll, []string{"v4", "v6", "host"}},
		{IPv4, []string{"v4", "host"}},
		{IPv6, []string{"v6"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.version), func(t *testing.T) {
			policy := DefaultPolicy()
			policy.IPVersion = tt.version

			groups := Assemble(channels, policy)
			require.Len(t, groups, 1)
			assert.Equal(t, tt.want, names(groups[0]))
		})
	}
}

func TestAssemble_MinSpeed(t *testing.T) {
	fast := channel.New("Fast", "http://a")
	fast.Improve(100, 900)
	slow := channel.New("Slow", "http://b")
	slow.Improve(50, 120)

	policy := DefaultPolicy()
	policy.MinSpeed = 500

	groups := Assemble([]channel.Channel{fast, slow}, policy)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"Fast"}, names(groups[0]))
}

func TestParseAllowList(t *testing.T) {
	content := []byte(`
# favourites
group:News
group: Sports 
CNN
  BBC World  

`)

	groups, channels := ParseAllowList(content)

	assert.Equal(t, []string{"News", "Sports"}, groups)
	assert.Equal(t, []string{"CNN", "BBC World"}, channels)
}

func TestParseAllowList_Empty(t *testing.T) {
	groups, channels := ParseAllowList([]byte("\n  \n# nothing\n"))

	assert.Nil(t, groups)
	assert.Nil(t, channels)
}
