// Package snap reads configuration when iptvmerge runs as a snap. Outside a
// snap every lookup falls back to the process environment.
package snap

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/canonical/go-snapctl"
)

// Active reports whether the process runs inside a snap.
func Active() bool {
	return os.Getenv("SNAP_NAME") != ""
}

// LoadEnv exports the KEY=VALUE lines of a file in SNAP_COMMON. Lines
// starting with '#' are comments. Missing files are ignored.
func LoadEnv(filename string) error {
	if !Active() {
		return nil
	}

	snapCommon := os.Getenv("SNAP_COMMON")
	if snapCommon == "" {
		return nil
	}

	file, err := os.Open(filepath.Join(snapCommon, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			os.Setenv(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}

	return scanner.Err()
}

// Get returns the value of a snap configuration option.
func Get(key string) (string, error) {
	if !Active() {
		return os.Getenv(key), nil
	}

	return snapctl.Get(key).Run()
}

// Lookup returns the environment variable env when set, the snap option key
// otherwise.
func Lookup(env, key string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	if !Active() {
		return "", nil
	}
	return Get(key)
}
