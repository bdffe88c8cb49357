package src

import "errors"

var (
	// ErrNoSources is returned when the subscription list holds no source.
	ErrNoSources = errors.New("no sources in subscription list")
	// ErrSourceList is returned when the subscription list cannot be read.
	ErrSourceList = errors.New("subscription list unreadable")
	// ErrTooLarge is returned for downloads above fetch.max.mb.
	ErrTooLarge = errors.New("download exceeds size limit")
	// ErrRunInProgress is returned when an update is requested during a run.
	ErrRunInProgress = errors.New("update already in progress")
	// ErrNotXMLTV is returned for EPG downloads without a <tv> root element.
	ErrNotXMLTV = errors.New("not an XMLTV document")
)
