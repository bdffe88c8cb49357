package src

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"iptvmerge/src/filecache"

	"github.com/avfs/avfs"
	"golang.org/x/sync/errgroup"
)

// FetchResult is the outcome of loading one subscription source.
type FetchResult struct {
	Source    string
	Body      []byte
	Err       error
	FromCache bool
}

// fetcher loads subscription sources from remote servers or local files.
type fetcher struct {
	client   *http.Client
	vfs      avfs.VFS
	settings SettingsStruct
	screen   *Screen
	cache    *filecache.FileCache
	folder   string
}

// fetchAll loads every source with at most fetch.concurrency downloads in
// flight. Results keep the order of sources.
func (f *fetcher) fetchAll(ctx context.Context, sources []string) []FetchResult {
	var results = make([]FetchResult, len(sources))

	var g errgroup.Group
	g.SetLimit(max(f.settings.FetchConcurrency, 1))

	for i, source := range sources {
		g.Go(func() error {
			results[i] = f.fetchSource(ctx, source)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (f *fetcher) fetchSource(ctx context.Context, source string) FetchResult {
	var result = FetchResult{Source: source}

	result.Body, result.Err = f.fetch(ctx, source)
	if result.Err == nil {
		if f.cache != nil && isRemote(source) {
			if err := f.cache.Put(source, result.Body, filecache.Metadata{CachedAt: time.Now()}); err != nil {
				f.screen.Debug("Cache:"+err.Error(), 1)
			}
		}
		return result
	}

	if f.cache != nil {
		if body, meta, ok := f.cache.Get(source); ok {
			f.screen.Warning(fmt.Sprintf("%s: %s, using copy from %s", source, result.Err, meta.CachedAt.Format("2006-01-02 15:04")))
			return FetchResult{Source: source, Body: body, FromCache: true}
		}
	}
	return result
}

// fetch returns the decompressed content of a source.
func (f *fetcher) fetch(ctx context.Context, source string) (body []byte, err error) {
	var maxSize = f.settings.fetchMaxBytes()

	if isRemote(source) {
		f.screen.Info("Download:" + source)
		body, err = f.download(ctx, source)
	} else {
		var file = resolvePath(f.folder, strings.TrimPrefix(source, "file://"))
		f.screen.Info("Open:" + file)

		if err = checkFile(f.vfs, file); err == nil {
			body, err = readByteFromFile(f.vfs, file)
		}
		if err == nil && maxSize > 0 && int64(len(body)) > maxSize {
			err = fmt.Errorf("%s: %w", file, ErrTooLarge)
		}
	}
	if err != nil {
		return nil, err
	}

	return extractGZIP(body, source, maxSize)
}

// download reads a remote file, bounded by fetch.max.mb.
func (f *fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, err
	}

	resp, err := getWithRetry(ctx, f.client, rawURL, f.settings.UserAgent,
		f.settings.FetchRetries, time.Duration(f.settings.FetchRetryDelay)*time.Millisecond, f.screen)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var maxSize = f.settings.fetchMaxBytes()
	if maxSize <= 0 {
		return io.ReadAll(resp.Body)
	}

	if resp.ContentLength > maxSize {
		return nil, fmt.Errorf("%s: %w (%d bytes)", rawURL, ErrTooLarge, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxSize {
		return nil, fmt.Errorf("%s: %w", rawURL, ErrTooLarge)
	}
	return body, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
