package src

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"iptvmerge/src/internal/aggregate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	vfs := newTestVFS(t, nil)

	settings, err := loadSettings(vfs, testFolder, "iptvmerge")
	require.NoError(t, err)

	assert.Equal(t, "subscribe.txt", settings.SourcesFile)
	assert.Equal(t, "result.m3u", settings.OutputM3U)
	assert.Equal(t, "result.txt", settings.OutputTXT)
	assert.True(t, settings.M3UResult)
	assert.True(t, settings.FilterSpeed)
	assert.Equal(t, "iptvmerge", settings.UserAgent)
	assert.Equal(t, []string{"0600"}, settings.Update)
	assert.Equal(t, "34400", settings.Port)

	// The completed file is written back.
	m, err := loadJSONFileToMap(vfs, filepath.Join(testFolder, "settings.json"))
	require.NoError(t, err)
	assert.Equal(t, "subscribe.txt", m["sources.file"])
	assert.Equal(t, 10000.0, m["probe.timeout.ms"])
}

func TestLoadSettings_KeepsValues(t *testing.T) {
	vfs := newTestVFS(t, map[string]string{
		"settings.json": `{"sources.file": "lists/sources.txt", "probe.trials": 3, "group.order": ["News", "Sports"], "unknown.key": 1}`,
	})

	settings, err := loadSettings(vfs, testFolder, "iptvmerge")
	require.NoError(t, err)

	assert.Equal(t, "lists/sources.txt", settings.SourcesFile)
	assert.Equal(t, 3, settings.ProbeTrials)
	assert.Equal(t, []string{"News", "Sports"}, settings.GroupOrder)

	m, err := loadJSONFileToMap(vfs, filepath.Join(testFolder, "settings.json"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, m["unknown.key"], "Unknown keys survive the rewrite")
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "broken json", content: `{"port":`},
		{name: "wrong type", content: `{"probe.trials": "three"}`},
		{name: "unknown ip version", content: `{"ipv.type": "ipv5"}`},
		{name: "bad update slot", content: `{"update": ["6am"]}`},
		{name: "no sources file", content: `{"sources.file": ""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vfs := newTestVFS(t, map[string]string{"settings.json": tt.content})

			_, err := loadSettings(vfs, testFolder, "iptvmerge")
			assert.Error(t, err)
		})
	}
}

func TestSettingsPolicy(t *testing.T) {
	settings := testSettings(t)
	settings.MaxResponseTime = 800
	settings.MinSpeed = 100
	settings.IPVersion = "IPv4"
	settings.GroupOrder = []string{"News"}

	p := settings.policy()
	assert.Equal(t, 800.0, p.MaxResponseTime)
	assert.Equal(t, 0.0, p.MinSpeed, "MinSpeed needs a throughput measurement")
	assert.Equal(t, aggregate.IPv4, p.IPVersion)
	assert.Equal(t, []string{"News"}, p.GroupOrder)

	settings.ProbeReadKB = 64
	assert.Equal(t, 100.0, settings.policy().MinSpeed)

	settings.FilterSpeed = false
	p = settings.policy()
	assert.True(t, math.IsInf(p.MaxResponseTime, 1))
	assert.Equal(t, 0.0, p.MinSpeed)
}

func TestSettingsProbeConfig(t *testing.T) {
	settings := testSettings(t)
	settings.ProbeTimeout = 1500
	settings.ProbeReadKB = 2

	cfg := settings.probeConfig()
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, int64(2048), cfg.ReadBytes)
	assert.Equal(t, settings.ProbeConcurrency, cfg.Concurrency)

	settings.FetchMaxMB = 2
	assert.Equal(t, int64(2<<20), settings.fetchMaxBytes())
}
