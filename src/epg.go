package src

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
)

// checkXMLTV verifies that body is an XML document with a <tv> root element.
func checkXMLTV(body []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	// XMLTV files often declare encodings other than UTF-8.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrNotXMLTV
			}
			return fmt.Errorf("%w: %w", ErrNotXMLTV, err)
		}

		if start, ok := token.(xml.StartElement); ok {
			if start.Name.Local != "tv" {
				return fmt.Errorf("%w: root element <%s>", ErrNotXMLTV, start.Name.Local)
			}
			return nil
		}
	}
}

// passThroughEPG saves the first valid guide of epg.urls into the output
// folder and returns its URL. Failures are reported as warnings only.
func (r *Run) passThroughEPG(ctx context.Context, f *fetcher, outputFolder string) string {
	for _, epgURL := range r.Settings.EPGURLs {
		body, err := f.fetch(ctx, epgURL)
		if err == nil {
			err = checkXMLTV(body)
		}
		if err == nil {
			err = writeByteToFile(r.FS, filepath.Join(outputFolder, r.Settings.EPGFile), body)
		}

		if err != nil {
			r.Screen.Warning(fmt.Sprintf("EPG %s: %s", epgURL, err))
			continue
		}

		r.Screen.Info("EPG:" + epgURL)
		return epgURL
	}
	return ""
}
