package src

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/avfs/avfs"
	"github.com/avfs/avfs/vfs/memfs"
)

const testFolder = "/config"

// newTestScreen returns a screen that prints nothing.
func newTestScreen() *Screen {
	screen := NewScreen("test", 0, 100)
	screen.SetLogger(log.New(io.Discard, "", 0))
	return screen
}

// newTestVFS returns an in-memory file system holding files below testFolder.
func newTestVFS(t *testing.T, files map[string]string) avfs.VFS {
	t.Helper()

	vfs := memfs.New()
	if err := vfs.MkdirAll(testFolder, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	for name, content := range files {
		path := filepath.Join(testFolder, name)
		if err := checkVFSFolder(filepath.Dir(path), vfs); err != nil {
			t.Fatalf("checkVFSFolder(%s): %v", path, err)
		}
		if err := writeByteToFile(vfs, path, []byte(content)); err != nil {
			t.Fatalf("writeByteToFile(%s): %v", path, err)
		}
	}
	return vfs
}

// testSettings returns the default settings.
func testSettings(t *testing.T) SettingsStruct {
	t.Helper()

	settings, err := loadSettings(memfs.New(), testFolder, "test")
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	return settings
}
