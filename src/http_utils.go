package src

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func newTransport(proxy string, dial func(ctx context.Context, network, addr string) (net.Conn, error)) (*http.Transport, error) {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	// Probes open one connection per stream host.
	transport.MaxIdleConnsPerHost = 4
	transport.DialContext = dial

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("proxy %q: %w", proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return transport, nil
}

func dialContextWithRetry(ctx context.Context, network, addr string) (net.Conn, error) {
	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Retry loop for transient errors (like DNS "server misbehaving")
	for i := 0; i < 3; i++ {
		conn, err = dialer.DialContext(ctx, network, addr)
		if err == nil {
			return conn, nil
		}

		if i < 2 {
			select {
			case <-ctx.Done():
				return nil, err
			case <-time.After(200 * time.Millisecond):
				continue
			}
		}
	}
	return nil, err
}

// NewHTTPClient returns a traced http.Client with cookiejar and redirect
// limits for downloading sources. Failed dials are retried. An empty proxy
// uses the proxy of the environment.
func NewHTTPClient(proxy string) (*http.Client, error) {
	transport, err := newTransport(proxy, dialContextWithRetry)
	if err != nil {
		return nil, err
	}
	return newClient(transport), nil
}

// NewStreamClient returns the client of the speed test. It dials once so a
// trial measures exactly one connection attempt.
func NewStreamClient(proxy string) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport, err := newTransport(proxy, dialer.DialContext)
	if err != nil {
		return nil, err
	}
	return newClient(transport), nil
}

func newClient(transport *http.Transport) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Jar:       jar,
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}

			// req.Context() inherits the context from the original request.
			span := trace.SpanFromContext(req.Context())
			if span.IsRecording() {
				span.SetAttributes(attribute.Int("http.redirect_count", len(via)))
				span.AddEvent("http.redirect", trace.WithAttributes(
					attribute.String("http.redirect.location", req.URL.String()),
				))
			}

			return nil
		},
	}
}

// getWithRetry sends GET requests until one answers 200 OK or the retries
// are used up. Retries wait delay in between.
func getWithRetry(ctx context.Context, client *http.Client, rawURL, userAgent string, retries int, delay time.Duration, screen *Screen) (*http.Response, error) {
	var attempt = 0

	for {
		resp, err := get(ctx, client, rawURL, userAgent)
		if err == nil {
			return resp, nil
		}

		if attempt >= retries || ctx.Err() != nil {
			return nil, err
		}
		attempt++

		if screen != nil {
			screen.Debug(fmt.Sprintf("Retry:%s (%s) %d/%d in %s", rawURL, err, attempt, retries, delay), 1)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func get(ctx context.Context, client *http.Client, rawURL, userAgent string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%d: %s %s", resp.StatusCode, rawURL, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}
