package src

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"iptvmerge/src/filecache"

	"github.com/avfs/avfs"
	"github.com/avfs/avfs/vfs/osfs"
)

// Flags : Command line options
type Flags struct {
	Config string
	Port   string
	Debug  int
	Quiet  bool
}

// App ties the settings, the screen and the shared clients of a process
// together. Every update creates a fresh Run from it.
type App struct {
	Name         string
	Version      string
	ConfigFolder string

	Settings SettingsStruct
	Screen   *Screen
	FS       avfs.VFS
	Client   *http.Client
	// StreamClient carries the speed test requests.
	StreamClient *http.Client
	Cache        *filecache.FileCache

	running    atomic.Bool
	mutex      sync.RWMutex
	lastReport *Report
}

// Init creates the config folder, loads settings.json and opens the source
// cache when enabled.
func Init(name, version string, flags Flags) (*App, error) {
	return initApp(osfs.New(), name, version, flags)
}

func initApp(vfs avfs.VFS, name, version string, flags Flags) (*App, error) {
	var app = &App{
		Name:         name,
		Version:      version,
		ConfigFolder: flags.Config,
		FS:           vfs,
	}

	if app.ConfigFolder == "" {
		app.ConfigFolder = filepath.Join(GetUserHomeDirectory(), "."+strings.ToLower(name))
	}

	settings, err := loadSettings(vfs, app.ConfigFolder, name)
	if err != nil {
		return nil, err
	}
	if flags.Port != "" {
		settings.Port = flags.Port
	}
	app.Settings = settings

	app.Screen = NewScreen(name, flags.Debug, settings.LogEntriesRAM)
	app.Screen.SetQuiet(flags.Quiet)

	app.Client, err = NewHTTPClient(settings.Proxy)
	if err != nil {
		return nil, err
	}

	app.StreamClient, err = NewStreamClient(settings.Proxy)
	if err != nil {
		return nil, err
	}

	if settings.FetchCache {
		app.Cache, err = filecache.Open(app.ConfigFolder)
		if err != nil {
			return nil, fmt.Errorf("source cache: %w", err)
		}
	}

	app.Screen.Debug("Config Folder:"+app.ConfigFolder, 1)
	return app, nil
}

// Close releases the source cache.
func (a *App) Close() error {
	if a.Cache != nil {
		return a.Cache.Close()
	}
	return nil
}

// Update runs one aggregation pass. Concurrent calls fail with
// ErrRunInProgress.
func (a *App) Update(ctx context.Context) (Report, error) {
	if !a.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer a.running.Store(false)

	a.Screen.Info("Update:Start")

	run := &Run{
		Settings:     a.Settings,
		Screen:       a.Screen,
		Client:       a.Client,
		StreamClient: a.StreamClient,
		FS:           a.FS,
		Cache:        a.Cache,
		Folder:       a.ConfigFolder,
	}

	report, err := run.Execute(ctx)
	if err != nil {
		a.Screen.Error(err)
	}

	if a.Cache != nil {
		a.Cache.CleanNow()
	}

	a.mutex.Lock()
	a.lastReport = &report
	a.mutex.Unlock()

	return report, err
}

// Running reports whether an update is in progress.
func (a *App) Running() bool {
	return a.running.Load()
}

// LastReport returns the report of the latest finished update.
func (a *App) LastReport() (Report, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if a.lastReport == nil {
		return Report{}, false
	}
	return *a.lastReport, true
}

// OutputFolder returns the absolute output folder.
func (a *App) OutputFolder() string {
	return resolvePath(a.ConfigFolder, a.Settings.OutputFolder)
}

// ShowSystemInfo prints the effective configuration.
func (a *App) ShowSystemInfo() {
	a.Screen.Info("Version:" + a.Version)
	a.Screen.Info("Config Folder:" + a.ConfigFolder)
	a.Screen.Info("Sources:" + resolvePath(a.ConfigFolder, a.Settings.SourcesFile))
	if a.Settings.AllowListFile != "" {
		a.Screen.Info("Allow-list:" + resolvePath(a.ConfigFolder, a.Settings.AllowListFile))
	}
	a.Screen.Info("Output Folder:" + a.OutputFolder())
	a.Screen.Info(fmt.Sprintf("Speed test:timeout %dms, %d trials, %d parallel", a.Settings.ProbeTimeout, a.Settings.ProbeTrials, a.Settings.ProbeConcurrency))
	a.Screen.Info("Update:" + strings.Join(a.Settings.Update, ","))
	a.Screen.Info("Port:" + a.Settings.Port)
}
