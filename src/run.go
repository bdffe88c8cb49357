package src

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"iptvmerge/src/filecache"
	"iptvmerge/src/internal/aggregate"
	"iptvmerge/src/internal/channel"
	m3u "iptvmerge/src/internal/m3u-parser"
	"iptvmerge/src/internal/speedtest"

	"github.com/avfs/avfs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("iptvmerge")

// Report summarizes one aggregation run.
type Report struct {
	Started       time.Time        `json:"started"`
	DurationMS    int64            `json:"duration_ms"`
	Sources       int              `json:"sources"`
	SourcesFailed int              `json:"sources_failed"`
	SourcesCached int              `json:"sources_cached"`
	Parsed        int              `json:"parsed"`
	Unique        int              `json:"unique"`
	Reachable     int              `json:"reachable"`
	Written       int              `json:"written"`
	Groups        int              `json:"groups"`
	EPG           string           `json:"epg,omitempty"`
	Files         []string         `json:"files,omitempty"`
	PhasesMS      map[string]int64 `json:"phases_ms"`
	Error         string           `json:"error,omitempty"`
}

// Run holds everything one aggregation pass needs. Nothing outlives it.
type Run struct {
	Settings SettingsStruct
	Screen   *Screen
	Client   *http.Client
	// StreamClient carries the speed test requests, Client when nil.
	StreamClient *http.Client
	FS           avfs.VFS
	Cache        *filecache.FileCache

	// Folder is the base of relative paths in Settings.
	Folder string
}

// Execute fetches, parses, merges, probes, assembles and writes the
// playlists. Only an unusable subscription list, allow-list or output
// folder fails the run; broken sources and channels are skipped.
func (r *Run) Execute(ctx context.Context) (report Report, err error) {
	report = Report{Started: time.Now(), PhasesMS: make(map[string]int64)}

	ctx, span := tracer.Start(ctx, "aggregate")
	defer func() {
		report.DurationMS = time.Since(report.Started).Milliseconds()
		if err != nil {
			report.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	phase := func(name string) func() {
		start := time.Now()
		return func() { report.PhasesMS[name] = time.Since(start).Milliseconds() }
	}

	sources, err := readSourceList(r.FS, resolvePath(r.Folder, r.Settings.SourcesFile))
	if err != nil {
		return
	}
	report.Sources = len(sources)

	policy := r.Settings.policy()
	if err = readAllowList(r.FS, resolvePath(r.Folder, r.Settings.AllowListFile), &policy); err != nil {
		return
	}

	outputFolder := resolvePath(r.Folder, r.Settings.OutputFolder)
	if err = checkVFSFolder(outputFolder, r.FS); err != nil {
		err = fmt.Errorf("output folder %s: %w", outputFolder, err)
		return
	}

	f := &fetcher{
		client:   r.Client,
		vfs:      r.FS,
		settings: r.Settings,
		screen:   r.Screen,
		cache:    r.Cache,
		folder:   r.Folder,
	}

	// Fetch and parse
	done := phase("fetch")
	lists := r.fetchAndParse(ctx, f, sources, &report)
	done()
	if err = ctx.Err(); err != nil {
		return
	}
	if report.Sources > 0 && report.SourcesFailed == report.Sources {
		r.Screen.Warning("No source could be loaded, the previous output is replaced by empty playlists")
	}

	merged := channel.Merge(lists)
	report.Unique = len(merged)
	r.Screen.Info(fmt.Sprintf("Channels:%d parsed, %d unique", report.Parsed, report.Unique))

	// Probe
	done = phase("probe")
	probed := r.probe(ctx, merged)
	done()
	if err = ctx.Err(); err != nil {
		return
	}

	for _, c := range probed {
		if c.Reachable() {
			report.Reachable++
		}
	}
	r.Screen.Info(fmt.Sprintf("Reachable:%d of %d", report.Reachable, len(probed)))

	// Assemble
	groups := aggregate.Assemble(probed, policy)
	report.Groups = len(groups)
	for _, g := range groups {
		report.Written += len(g.Channels)
	}

	if len(r.Settings.EPGURLs) > 0 {
		done = phase("epg")
		report.EPG = r.passThroughEPG(ctx, f, outputFolder)
		done()
	}

	// Write
	done = phase("write")
	report.Files, err = r.write(ctx, groups, outputFolder, report.EPG)
	done()
	if err != nil {
		return
	}

	r.Screen.Highlight(fmt.Sprintf("Update:%d channels in %d groups", report.Written, report.Groups))
	return
}

func (r *Run) fetchAndParse(ctx context.Context, f *fetcher, sources []string, report *Report) [][]channel.Channel {
	ctx, span := tracer.Start(ctx, "fetch", trace.WithAttributes(attribute.Int("sources", len(sources))))
	defer span.End()

	var lists = make([][]channel.Channel, 0, len(sources))

	for _, result := range f.fetchAll(ctx, sources) {
		if result.Err != nil {
			report.SourcesFailed++
			r.Screen.Warning(fmt.Sprintf("Source %s: %s", result.Source, result.Err))
			continue
		}
		if result.FromCache {
			report.SourcesCached++
		}

		channels := m3u.Parse(result.Body)
		if len(channels) == 0 {
			r.Screen.Warning(fmt.Sprintf("Source %s: no channels found", result.Source))
		}
		r.Screen.Debug(fmt.Sprintf("Parsed:%s (%d)", result.Source, len(channels)), 1)

		report.Parsed += len(channels)
		lists = append(lists, channels)
	}

	span.SetAttributes(
		attribute.Int("sources.failed", report.SourcesFailed),
		attribute.Int("channels.parsed", report.Parsed),
	)
	return lists
}

func (r *Run) probe(ctx context.Context, channels []channel.Channel) []channel.Channel {
	ctx, span := tracer.Start(ctx, "probe", trace.WithAttributes(attribute.Int("channels", len(channels))))
	defer span.End()

	r.Screen.Info(fmt.Sprintf("Speed test:%d channels, %d parallel", len(channels), max(r.Settings.ProbeConcurrency, 1)))

	var client = r.StreamClient
	if client == nil {
		client = r.Client
	}

	prober := speedtest.New(client, r.Settings.probeConfig())
	return prober.ProbeAll(ctx, channels)
}

func (r *Run) write(ctx context.Context, groups []channel.Group, outputFolder, epgURL string) (files []string, err error) {
	_, span := tracer.Start(ctx, "write")
	defer span.End()

	out := m3u.Write(groups, m3u.WriteOptions{ReplayQuery: r.Settings.ReplayQuery, EPGURL: epgURL})

	if r.Settings.M3UResult {
		var file = filepath.Join(outputFolder, r.Settings.OutputM3U)
		if err = writeByteToFile(r.FS, file, []byte(out.M3U)); err != nil {
			return nil, fmt.Errorf("write %s: %w", file, err)
		}
		files = append(files, file)
		r.Screen.Info("Save File:" + file)
	}

	var file = filepath.Join(outputFolder, r.Settings.OutputTXT)
	if err = writeByteToFile(r.FS, file, []byte(out.TXT)); err != nil {
		return files, fmt.Errorf("write %s: %w", file, err)
	}
	files = append(files, file)
	r.Screen.Info("Save File:" + file)

	return files, nil
}
