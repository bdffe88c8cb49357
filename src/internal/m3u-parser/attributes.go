package m3u

import "strings"

// parseAttributes extracts every key="value" pair of an EXTINF line.
// Keys containing "tvg" are lowercased. A value without a closing quote ends
// the scan.
func parseAttributes(line string) map[string]string {
	attributes := make(map[string]string)

	n := len(line)
	i := 0

	for i < n {
		eqIdx := strings.IndexByte(line[i:], '=')
		if eqIdx == -1 {
			break
		}
		eqIdx += i

		if eqIdx+1 >= n || line[eqIdx+1] != '"' {
			i = eqIdx + 1
			continue
		}

		// The key starts after the last separator before '='.
		keyStart := strings.LastIndexAny(line[i:eqIdx], " ,:")
		if keyStart == -1 {
			keyStart = i
		} else {
			keyStart += i + 1
		}
		key := line[keyStart:eqIdx]

		quoteStart := eqIdx + 2
		quoteEnd := strings.IndexByte(line[quoteStart:], '"')
		if quoteEnd == -1 {
			break
		}
		quoteEnd += quoteStart

		if key != "" {
			if strings.Contains(strings.ToLower(key), "tvg") {
				key = strings.ToLower(key)
			}
			attributes[key] = line[quoteStart:quoteEnd]
		}

		i = quoteEnd + 1
	}

	return attributes
}

// channelName returns the text after the first comma that is not inside a
// quoted attribute value.
func channelName(line string) string {
	inQuote := false
	for idx, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			return strings.TrimSpace(line[idx+1:])
		}
	}
	return ""
}
