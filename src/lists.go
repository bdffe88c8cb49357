package src

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"iptvmerge/src/internal/aggregate"

	"github.com/avfs/avfs"
)

// readSourceList returns the subscription URLs of a newline separated file.
// Blank lines and lines starting with '#' are skipped.
func readSourceList(vfs avfs.VFS, file string) ([]string, error) {
	content, err := readByteFromFile(vfs, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceList, file, err)
	}

	var sources []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceList, file, err)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSources, file)
	}
	return sources, nil
}

// readAllowList loads the allow-list into policy. No file configured keeps
// every channel, a configured but unreadable file is an error.
func readAllowList(vfs avfs.VFS, file string, policy *aggregate.Policy) error {
	if file == "" {
		return nil
	}

	content, err := readByteFromFile(vfs, file)
	if err != nil {
		return fmt.Errorf("allow-list %s: %w", file, err)
	}

	policy.IncludeGroups, policy.IncludeChannels = aggregate.ParseAllowList(content)
	return nil
}
