package src

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"

	"github.com/avfs/avfs"
)

// --- System Tools ---

// checkVFSFolder : Checks whether the Folder exists in provided virtual filesystem, if not, the Folder is created
func checkVFSFolder(path string, vfs avfs.VFS) (err error) {
	_, err = vfs.Stat(path)

	if fsIsNotExistErr(err) {
		return vfs.MkdirAll(path, 0755)
	}
	return err
}

// fsIsNotExistErr : Returns true whether the <err> is known to report that a file or directory does not exist,
// including virtual file system errors
func fsIsNotExistErr(err error) bool {
	if errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, avfs.ErrWinPathNotFound) ||
		errors.Is(err, avfs.ErrNoSuchFileOrDir) ||
		errors.Is(err, avfs.ErrWinFileNotFound) {
		return true
	}
	return false
}

// Checks whether the File exists in the Filesystem
func checkFile(vfs avfs.VFS, filename string) (err error) {
	fi, err := vfs.Stat(filename)
	if err != nil {
		return err
	}

	if fi.IsDir() {
		err = fmt.Errorf("%s: is a folder, not a file", filename)
	}
	return
}

// GetUserHomeDirectory : User Home Directory
func GetUserHomeDirectory() (userHomeDirectory string) {
	usr, err := user.Current()

	if err != nil {
		for _, name := range []string{"HOME", "USERPROFILE"} {
			if dir := os.Getenv(name); dir != "" {
				userHomeDirectory = dir
				break
			}
		}
	} else {
		userHomeDirectory = usr.HomeDir
	}
	return
}

// resolvePath makes a relative path relative to folder.
func resolvePath(folder, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(folder, path)
}

// JSON
func mapToJSON(tmpMap any) string {
	jsonString, err := json.MarshalIndent(tmpMap, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(jsonString)
}

func loadJSONFileToMap(vfs avfs.VFS, file string) (tmpMap map[string]any, err error) {
	content, err := readByteFromFile(vfs, file)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(content)) == 0 {
		return make(map[string]any), nil
	}

	err = json.Unmarshal(content, &tmpMap)
	if tmpMap == nil {
		tmpMap = make(map[string]any)
	}
	return
}

// Binary
func readByteFromFile(vfs avfs.VFS, file string) (content []byte, err error) {
	f, err := vfs.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// writeByteToFile replaces file atomically: the data goes to a temporary file
// in the same folder which is then renamed.
func writeByteToFile(vfs avfs.VFS, file string, data []byte) (err error) {
	var tmp = file + ".tmp"

	f, err := vfs.Create(tmp)
	if err != nil {
		return err
	}

	if _, err = f.Write(data); err != nil {
		f.Close()
		vfs.Remove(tmp)
		return err
	}

	if err = f.Close(); err != nil {
		vfs.Remove(tmp)
		return err
	}

	if err = vfs.Rename(tmp, file); err != nil {
		vfs.Remove(tmp)
		return err
	}
	return nil
}

// extractGZIP returns body unchanged unless it starts with the gzip magic
// bytes. maxSize > 0 bounds the decompressed size.
func extractGZIP(body []byte, fileSource string, maxSize int64) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileSource, err)
	}
	defer gz.Close()

	var r io.Reader = gz
	if maxSize > 0 {
		r = io.LimitReader(gz, maxSize+1)
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileSource, err)
	}
	if maxSize > 0 && int64(len(content)) > maxSize {
		return nil, fmt.Errorf("%s: %w", fileSource, ErrTooLarge)
	}
	return content, nil
}
