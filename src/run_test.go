package src

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avfs/avfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStreamServer serves playlists below /lists/ and fake streams: /cnn
// answers slowly, /dead is missing.
func newStreamServer(t *testing.T) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lists/a.m3u":
			fmt.Fprintf(w, "#EXTM3U\n"+
				"#EXTINF:-1 tvg-id=\"cnn.us\" group-title=\"News\",CNN\n%[1]s/cnn\n"+
				"#EXTINF:-1 group-title=\"News\",BBC\n%[1]s/bbc\n"+
				"#EXTINF:-1 group-title=\"Sports\",Dead\n%[1]s/dead\n", server.URL)
		case "/cnn":
			time.Sleep(100 * time.Millisecond)
			w.Header().Set("Content-Type", "video/mp2t")
			w.Write([]byte("stream"))
		case "/bbc", "/espn":
			w.Header().Set("Content-Type", "video/mp2t")
			w.Write([]byte("stream"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestRun(t *testing.T, server *httptest.Server, files map[string]string) *Run {
	t.Helper()

	if _, ok := files["subscribe.txt"]; !ok {
		files["subscribe.txt"] = strings.Join([]string{
			"# providers",
			server.URL + "/lists/a.m3u",
			server.URL + "/lists/missing.m3u",
			"local.txt",
		}, "\n")
	}
	if _, ok := files["local.txt"]; !ok {
		files["local.txt"] = fmt.Sprintf("Sports,#genre#\nESPN,%[1]s/espn\nCNN Copy,%[1]s/cnn\n", server.URL)
	}

	settings := testSettings(t)
	settings.ProbeTimeout = 2000
	settings.ProbeConcurrency = 4
	settings.FetchRetryDelay = 1

	client, err := NewHTTPClient("")
	require.NoError(t, err)
	streamClient, err := NewStreamClient("")
	require.NoError(t, err)

	return &Run{
		Settings:     settings,
		Screen:       newTestScreen(),
		Client:       client,
		StreamClient: streamClient,
		FS:           newTestVFS(t, files),
		Folder:       testFolder,
	}
}

func readOutput(t *testing.T, vfs avfs.VFS, name string) string {
	t.Helper()

	content, err := readByteFromFile(vfs, filepath.Join(testFolder, "output", name))
	require.NoError(t, err, name)
	return string(content)
}

func TestExecute(t *testing.T) {
	server := newStreamServer(t)
	r := newTestRun(t, server, map[string]string{})

	report, err := r.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Sources)
	assert.Equal(t, 1, report.SourcesFailed)
	assert.Equal(t, 5, report.Parsed)
	assert.Equal(t, 4, report.Unique, "CNN Copy shares the URL of CNN")
	assert.Equal(t, 3, report.Reachable)
	assert.Equal(t, 3, report.Written)
	assert.Equal(t, 2, report.Groups)
	assert.Len(t, report.Files, 2)
	assert.Empty(t, report.Error)
	assert.Contains(t, report.PhasesMS, "probe")

	wantTXT := fmt.Sprintf("News,#genre#\nBBC,%[1]s/bbc\nCNN,%[1]s/cnn\n\nSports,#genre#\nESPN,%[1]s/espn\n", server.URL)
	assert.Equal(t, wantTXT, readOutput(t, r.FS, "result.txt"))

	wantM3U := fmt.Sprintf("#EXTM3U\n"+
		"#EXTINF:-1 group-title=\"News\",BBC\n%[1]s/bbc\n"+
		"#EXTINF:-1 tvg-id=\"cnn.us\" group-title=\"News\",CNN\n%[1]s/cnn\n"+
		"#EXTINF:-1 group-title=\"Sports\",ESPN\n%[1]s/espn\n", server.URL)
	assert.Equal(t, wantM3U, readOutput(t, r.FS, "result.m3u"))

	warnings, _ := r.Screen.Counts()
	assert.Equal(t, 1, warnings, "the missing source is reported")
}

func TestExecute_Options(t *testing.T) {
	server := newStreamServer(t)

	t.Run("txt only", func(t *testing.T) {
		r := newTestRun(t, server, map[string]string{})
		r.Settings.M3UResult = false

		report, err := r.Execute(context.Background())
		require.NoError(t, err)
		require.Len(t, report.Files, 1)
		assert.Equal(t, filepath.Join(testFolder, "output", "result.txt"), report.Files[0])

		_, err = r.FS.Stat(filepath.Join(testFolder, "output", "result.m3u"))
		assert.True(t, fsIsNotExistErr(err))
	})

	t.Run("group order", func(t *testing.T) {
		r := newTestRun(t, server, map[string]string{})
		r.Settings.GroupOrder = []string{"Sports"}

		_, err := r.Execute(context.Background())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(readOutput(t, r.FS, "result.txt"), "Sports,#genre#\n"))
	})

	t.Run("allow-list", func(t *testing.T) {
		r := newTestRun(t, server, map[string]string{"allow.txt": "CNN\n"})
		r.Settings.AllowListFile = "allow.txt"

		report, err := r.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Written)
		assert.Equal(t, fmt.Sprintf("News,#genre#\nCNN,%s/cnn\n", server.URL), readOutput(t, r.FS, "result.txt"))
	})

	t.Run("response time ceiling", func(t *testing.T) {
		r := newTestRun(t, server, map[string]string{})
		r.Settings.MaxResponseTime = 50

		report, err := r.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, report.Reachable)
		assert.Equal(t, 2, report.Written, "the slow CNN stream is dropped")
		assert.NotContains(t, readOutput(t, r.FS, "result.txt"), "CNN")
	})

	t.Run("replay query", func(t *testing.T) {
		r := newTestRun(t, server, map[string]string{})
		r.Settings.ReplayQuery = "playseek=${(b)yyyyMMddHHmmss}"

		_, err := r.Execute(context.Background())
		require.NoError(t, err)
		assert.Contains(t, readOutput(t, r.FS, "result.m3u"), server.URL+"/bbc?playseek=")
		assert.NotContains(t, readOutput(t, r.FS, "result.txt"), "playseek")
	})
}

func TestExecute_Fatal(t *testing.T) {
	server := newStreamServer(t)

	tests := []struct {
		name   string
		files  map[string]string
		modify func(r *Run)
		want   error
	}{
		{
			name:  "empty subscription list",
			files: map[string]string{"subscribe.txt": "# nothing\n"},
			want:  ErrNoSources,
		},
		{
			name:   "missing subscription list",
			files:  map[string]string{},
			modify: func(r *Run) { r.Settings.SourcesFile = "missing.txt" },
			want:   ErrSourceList,
		},
		{
			name:   "missing allow-list",
			files:  map[string]string{},
			modify: func(r *Run) { r.Settings.AllowListFile = "missing.txt" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRun(t, server, tt.files)
			if tt.modify != nil {
				tt.modify(r)
			}

			report, err := r.Execute(context.Background())
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			}
			assert.Equal(t, err.Error(), report.Error)
			assert.Empty(t, report.Files)

			_, err = r.FS.Stat(filepath.Join(testFolder, "output", "result.txt"))
			assert.True(t, fsIsNotExistErr(err), "no output is written")
		})
	}
}

func TestExecute_AllSourcesFail(t *testing.T) {
	server := newStreamServer(t)
	r := newTestRun(t, server, map[string]string{
		"subscribe.txt": server.URL + "/lists/missing.m3u\n",
	})

	report, err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesFailed)
	assert.Equal(t, 0, report.Written)
	warnings, _ := r.Screen.Counts()
	assert.Equal(t, 2, warnings)
	assert.Contains(t, strings.Join(r.Screen.Log(), "\n"), "No source could be loaded")
	assert.Equal(t, "", readOutput(t, r.FS, "result.txt"))
	assert.Equal(t, "#EXTM3U\n", readOutput(t, r.FS, "result.m3u"))
}

func TestExecute_Cancelled(t *testing.T) {
	server := newStreamServer(t)
	r := newTestRun(t, server, map[string]string{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Execute(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	_, err = r.FS.Stat(filepath.Join(testFolder, "output", "result.txt"))
	assert.True(t, fsIsNotExistErr(err))
}

func TestExecute_EPG(t *testing.T) {
	server := newStreamServer(t)
	epg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testXMLTV))
	}))
	defer epg.Close()

	r := newTestRun(t, server, map[string]string{})
	r.Settings.EPGURLs = []string{epg.URL + "/guide.xml"}

	report, err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, epg.URL+"/guide.xml", report.EPG)
	assert.True(t, strings.HasPrefix(readOutput(t, r.FS, "result.m3u"), fmt.Sprintf("#EXTM3U x-tvg-url=\"%s/guide.xml\"\n", epg.URL)))
	assert.Equal(t, testXMLTV, readOutput(t, r.FS, "epg.xml"))
}
