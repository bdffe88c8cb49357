package src

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"iptvmerge/src/internal/aggregate"
	"iptvmerge/src/internal/speedtest"

	"github.com/avfs/avfs"
)

// SettingsStruct : Content of settings.json
type SettingsStruct struct {
	SourcesFile   string `json:"sources.file"`
	AllowListFile string `json:"allowlist.file"`

	OutputFolder string `json:"output.folder"`
	OutputM3U    string `json:"output.m3u"`
	OutputTXT    string `json:"output.txt"`
	M3UResult    bool   `json:"m3u.result"`

	ProbeTimeout     int     `json:"probe.timeout.ms"`
	ProbeTrials      int     `json:"probe.trials"`
	ProbeConcurrency int     `json:"probe.concurrency"`
	ProbeRate        float64 `json:"probe.rate"`
	ProbeReadKB      int64   `json:"probe.read.kb"`

	FilterSpeed     bool     `json:"filter.speed"`
	MaxResponseTime float64  `json:"max.response.ms"`
	MinSpeed        float64  `json:"min.speed.kbps"`
	IPVersion       string   `json:"ipv.type"`
	GroupOrder      []string `json:"group.order"`
	ReplayQuery     string   `json:"replay.query"`

	FetchConcurrency int  `json:"fetch.concurrency"`
	FetchMaxMB       int  `json:"fetch.max.mb"`
	FetchRetries     int  `json:"fetch.retries"`
	FetchRetryDelay  int  `json:"fetch.retry.delay.ms"`
	FetchCache       bool `json:"fetch.cache"`

	UserAgent string `json:"user.agent"`
	Proxy     string `json:"proxy"`

	EPGURLs []string `json:"epg.urls"`
	EPGFile string   `json:"epg.file"`

	Update        []string `json:"update"`
	Port          string   `json:"port"`
	LogEntriesRAM int      `json:"log.entries.ram"`
}

func defaultSettings(name string) map[string]any {
	var defaults = make(map[string]any)

	defaults["sources.file"] = "subscribe.txt"
	defaults["allowlist.file"] = ""
	defaults["output.folder"] = "output"
	defaults["output.m3u"] = "result.m3u"
	defaults["output.txt"] = "result.txt"
	defaults["m3u.result"] = true
	defaults["probe.timeout.ms"] = 10000
	defaults["probe.trials"] = 1
	defaults["probe.concurrency"] = 32
	defaults["probe.rate"] = 0
	defaults["probe.read.kb"] = 0
	defaults["filter.speed"] = true
	defaults["max.response.ms"] = 5000
	defaults["min.speed.kbps"] = 0
	defaults["ipv.type"] = string(aggregate.IPAll)
	defaults["group.order"] = []string{}
	defaults["replay.query"] = ""
	defaults["fetch.concurrency"] = 8
	defaults["fetch.max.mb"] = 50
	defaults["fetch.retries"] = 0
	defaults["fetch.retry.delay.ms"] = 100
	defaults["fetch.cache"] = false
	defaults["user.agent"] = name
	defaults["proxy"] = ""
	defaults["epg.urls"] = []string{}
	defaults["epg.file"] = "epg.xml"
	defaults["update"] = []string{"0600"}
	defaults["port"] = "34400"
	defaults["log.entries.ram"] = 500

	return defaults
}

// loadSettings reads settings.json from the config folder, fills in default
// values for missing keys and writes the completed file back.
func loadSettings(vfs avfs.VFS, configFolder, name string) (settings SettingsStruct, err error) {
	var file = filepath.Join(configFolder, "settings.json")

	if err = checkVFSFolder(configFolder, vfs); err != nil {
		return
	}

	settingsMap, err := loadJSONFileToMap(vfs, file)
	if err != nil {
		if !fsIsNotExistErr(err) {
			return settings, fmt.Errorf("settings %s: %w", file, err)
		}
		settingsMap, err = make(map[string]any), nil
	}

	for key, value := range defaultSettings(name) {
		if _, ok := settingsMap[key]; !ok {
			settingsMap[key] = value
		}
	}

	if err = json.Unmarshal([]byte(mapToJSON(settingsMap)), &settings); err != nil {
		return settings, fmt.Errorf("settings %s: %w", file, err)
	}

	if err = settings.validate(); err != nil {
		return settings, fmt.Errorf("settings %s: %w", file, err)
	}

	err = writeByteToFile(vfs, file, []byte(mapToJSON(settingsMap)))
	return
}

func (s SettingsStruct) validate() error {
	switch aggregate.IPVersion(strings.ToLower(s.IPVersion)) {
	case aggregate.IPAll, aggregate.IPv4, aggregate.IPv6, "":
	default:
		return fmt.Errorf("ipv.type: unknown value %q", s.IPVersion)
	}

	for _, schedule := range s.Update {
		if _, err := time.Parse("1504", schedule); err != nil {
			return fmt.Errorf("update: %q is not a HHMM time", schedule)
		}
	}

	if s.SourcesFile == "" {
		return fmt.Errorf("sources.file: %w", ErrSourceList)
	}
	return nil
}

// policy translates the filter settings.
func (s SettingsStruct) policy() aggregate.Policy {
	var p = aggregate.DefaultPolicy()

	if s.FilterSpeed {
		p.MaxResponseTime = s.MaxResponseTime
		if s.ProbeReadKB > 0 {
			p.MinSpeed = s.MinSpeed
		}
	} else {
		p.MaxResponseTime = math.Inf(1)
	}

	p.GroupOrder = s.GroupOrder
	if v := aggregate.IPVersion(strings.ToLower(s.IPVersion)); v != "" {
		p.IPVersion = v
	}
	return p
}

func (s SettingsStruct) probeConfig() speedtest.Config {
	return speedtest.Config{
		Timeout:     time.Duration(s.ProbeTimeout) * time.Millisecond,
		Trials:      s.ProbeTrials,
		Concurrency: s.ProbeConcurrency,
		Rate:        s.ProbeRate,
		ReadBytes:   s.ProbeReadKB * 1024,
		UserAgent:   s.UserAgent,
	}
}

func (s SettingsStruct) fetchMaxBytes() int64 {
	return int64(s.FetchMaxMB) << 20
}
