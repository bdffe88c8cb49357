// Package speedtest measures reachability, latency and throughput of
// stream URLs.
package speedtest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"iptvmerge/src/internal/channel"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// maxPlaylistSize bounds the HLS playlist read while looking for a segment.
	maxPlaylistSize = 1 << 20
	// maxPlaylistDepth bounds master -> media playlist hops.
	maxPlaylistDepth = 3
)

var (
	errUnsupportedScheme = errors.New("unsupported stream scheme")
	errNoSegment         = errors.New("no segment in playlist")
	errEmptyBody         = errors.New("empty response body")
)

// defaultPorts of the stream schemes probed with a TCP connect.
var defaultPorts = map[string]string{
	"rtsp": "554",
	"rtmp": "1935",
	"mms":  "1755",
}

// Config tunes a Prober.
type Config struct {
	// Timeout bounds one trial, body reads included.
	Timeout time.Duration
	// Trials is the number of measurements per channel.
	Trials int
	// Concurrency caps the probes in flight in ProbeAll.
	Concurrency int
	// Rate limits probe starts per second, 0 for no limit.
	Rate float64
	// ReadBytes > 0 also measures throughput by reading that many bytes.
	ReadBytes int64
	UserAgent string
}

// Prober runs speed tests against stream URLs. It is safe for concurrent use.
type Prober struct {
	client  *http.Client
	dialer  *net.Dialer
	cfg     Config
	limiter *rate.Limiter

	probes  metric.Int64Counter
	latency metric.Float64Histogram
}

// New returns a Prober sending its HTTP requests through client.
func New(client *http.Client, cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if client == nil {
		client = http.DefaultClient
	}

	p := &Prober{
		client: client,
		dialer: &net.Dialer{},
		cfg:    cfg,
	}
	if cfg.Rate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	var err error
	meter := otel.Meter("iptvmerge/speedtest")

	p.probes, err = meter.Int64Counter("speedtest.probes",
		metric.WithDescription("Number of probe trials by result"))
	if err != nil {
		otel.Handle(err)
	}
	p.latency, err = meter.Float64Histogram("speedtest.latency",
		metric.WithDescription("Latency of successful probe trials"),
		metric.WithUnit("ms"))
	if err != nil {
		otel.Handle(err)
	}

	return p
}

// ProbeAll probes every channel with at most Concurrency probes in flight
// and returns once all of them finished. The result keeps the input order.
func (p *Prober) ProbeAll(ctx context.Context, channels []channel.Channel) []channel.Channel {
	results := make([]channel.Channel, len(channels))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for i, c := range channels {
		g.Go(func() error {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					results[i] = c
					return nil
				}
			}
			results[i] = p.Probe(ctx, c)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Probe measures one channel. The response time becomes the mean over the
// successful trials and stays unreachable when none succeeds.
func (p *Prober) Probe(ctx context.Context, c channel.Channel) channel.Channel {
	var (
		latencySum float64
		speedSum   float64
		succeeded  int
	)

	for range p.cfg.Trials {
		latency, speed, err := p.trial(ctx, c.URL)
		if err != nil {
			p.probes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failed")))
			continue
		}

		p.probes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
		p.latency.Record(ctx, latency)

		latencySum += latency
		speedSum += speed
		succeeded++
	}

	if succeeded > 0 {
		c.Improve(latencySum/float64(succeeded), speedSum/float64(succeeded))
	}
	return c
}

// trial returns latency in milliseconds and throughput in KB/s.
func (p *Prober) trial(ctx context.Context, streamURL string) (float64, float64, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return 0, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		return p.httpTrial(ctx, u)
	case "rtsp", "rtmp", "mms":
		latency, err := p.dialTrial(ctx, u, defaultPorts[scheme])
		return latency, 0, err
	default:
		return 0, 0, fmt.Errorf("%w: %q", errUnsupportedScheme, u.Scheme)
	}
}

func (p *Prober) httpTrial(ctx context.Context, u *url.URL) (float64, float64, error) {
	start := time.Now()

	resp, err := p.get(ctx, u)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	latency := milliseconds(time.Since(start))

	if p.cfg.ReadBytes <= 0 {
		return latency, 0, nil
	}

	speed, err := p.throughput(ctx, resp, 0)
	if err != nil {
		return 0, 0, err
	}
	return latency, speed, nil
}

// get sends a GET request and accepts only successful, non-HTML responses.
func (p *Prober) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	// Error and captive portal pages come back as HTML.
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/html" {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type: %s", mediaType)
	}

	return resp, nil
}

// throughput reads up to ReadBytes of the stream. For HLS playlists the
// first segment is measured instead of the playlist itself.
func (p *Prober) throughput(ctx context.Context, resp *http.Response, depth int) (float64, error) {
	if isHLS(resp) {
		if depth >= maxPlaylistDepth {
			return 0, errNoSegment
		}

		next, err := firstURI(resp)
		if err != nil {
			return 0, err
		}

		segment, err := p.get(ctx, next)
		if err != nil {
			return 0, err
		}
		defer segment.Body.Close()

		return p.throughput(ctx, segment, depth+1)
	}

	start := time.Now()
	n, err := io.CopyN(io.Discard, resp.Body, p.cfg.ReadBytes)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if n == 0 {
		return 0, errEmptyBody
	}

	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = time.Microsecond.Seconds()
	}
	return float64(n) / 1024 / elapsed, nil
}

func (p *Prober) dialTrial(ctx context.Context, u *url.URL, defaultPort string) (float64, error) {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return 0, err
	}
	latency := milliseconds(time.Since(start))
	conn.Close()

	return latency, nil
}

func isHLS(resp *http.Response) bool {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch strings.ToLower(mediaType) {
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl", "audio/x-mpegurl":
		return true
	}
	return resp.Request != nil && strings.HasSuffix(strings.ToLower(resp.Request.URL.Path), ".m3u8")
}

// firstURI returns the first media URI of a playlist resolved against the
// playlist URL.
func firstURI(resp *http.Response) (*url.URL, error) {
	if resp.Request == nil {
		return nil, errNoSegment
	}

	scanner := bufio.NewScanner(io.LimitReader(resp.Body, maxPlaylistSize))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ref, err := url.Parse(line)
		if err != nil {
			return nil, err
		}
		return resp.Request.URL.ResolveReference(ref), nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errNoSegment
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
