package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"iptvmerge/src"
)

var port = flag.String("port", "", ": Server port          [34400] (default: 34400)")
var host = flag.String("host", "", ": Server host                  (default: localhost)")
var update = flag.Bool("update", false, ": Start an update")

func baseURL(cmdHost, cmdPort string) (string, error) {
	portNum := 34400
	if cmdPort != "" {
		var err error
		portNum, err = strconv.Atoi(cmdPort)
		if err != nil {
			return "", err
		}
	}

	hostname := "localhost"
	if cmdHost != "" {
		hostname = cmdHost
	}
	return fmt.Sprintf("http://%s:%d", hostname, portNum), nil
}

// runLogic prints the server status. The exit code is 0 when idle, 1 while
// an update is running and -1 on errors.
func runLogic(cmdHost, cmdPort string, outWriter io.Writer, errWriter io.Writer) int {
	base, err := baseURL(cmdHost, cmdPort)
	if err != nil {
		fmt.Fprintf(errWriter, "Unable parse port: %v\n", err)
		return -1
	}

	resp, err := http.Get(base + "/status")
	if err != nil {
		fmt.Fprintf(errWriter, "Unable to get status: %v\n", err)
		return -1
	}
	defer resp.Body.Close()

	respStr, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(errWriter, "Unable read response: %v\n", err)
		return -1
	}

	var status src.StatusStruct
	if err := json.Unmarshal(respStr, &status); err != nil {
		fmt.Fprintf(errWriter, "Unable parse response: %v\n", err)
		fmt.Fprintf(errWriter, "%s\n", respStr)
		return -1
	}

	fmt.Fprintf(outWriter, "%s status:\n", status.Name)
	fmt.Fprintf(outWriter, "Version:           %v\n", status.Version)
	fmt.Fprintf(outWriter, "Running:           %v\n", status.Running)
	fmt.Fprintf(outWriter, "Connections:       %v\n", status.Connections)
	fmt.Fprintf(outWriter, "Warnings:          %v\n", status.Warnings)
	fmt.Fprintf(outWriter, "Errors:            %v\n", status.Errors)

	if report := status.Report; report != nil {
		fmt.Fprintf(outWriter, "Last Update:       %v\n", report.Started.Format(time.DateTime))
		fmt.Fprintf(outWriter, "Duration:          %v\n", time.Duration(report.DurationMS)*time.Millisecond)
		fmt.Fprintf(outWriter, "Sources:           %d (%d failed, %d cached)\n", report.Sources, report.SourcesFailed, report.SourcesCached)
		fmt.Fprintf(outWriter, "Channels Parsed:   %d\n", report.Parsed)
		fmt.Fprintf(outWriter, "Channels Unique:   %d\n", report.Unique)
		fmt.Fprintf(outWriter, "Channels Reachable:%d\n", report.Reachable)
		fmt.Fprintf(outWriter, "Channels Written:  %d\n", report.Written)
		fmt.Fprintf(outWriter, "Groups:            %d\n", report.Groups)
		if report.EPG != "" {
			fmt.Fprintf(outWriter, "EPG:               %s\n", report.EPG)
		}
		if report.Error != "" {
			fmt.Fprintf(outWriter, "Error:             %s\n", report.Error)
		}
	}

	if status.Running {
		return 1
	}
	return 0
}

// updateLogic requests an update. The exit code is 0 when accepted, 1 while
// another update is running and -1 on errors.
func updateLogic(cmdHost, cmdPort string, outWriter io.Writer, errWriter io.Writer) int {
	base, err := baseURL(cmdHost, cmdPort)
	if err != nil {
		fmt.Fprintf(errWriter, "Unable parse port: %v\n", err)
		return -1
	}

	resp, err := http.Post(base+"/api/update", "", nil)
	if err != nil {
		fmt.Fprintf(errWriter, "Unable to request update: %v\n", err)
		return -1
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Fprintln(outWriter, "Update started")
		return 0
	case http.StatusConflict:
		fmt.Fprintln(outWriter, "Update already running")
		return 1
	default:
		fmt.Fprintf(errWriter, "Unexpected response: %s\n", resp.Status)
		return -1
	}
}

func main() {
	flag.Parse()

	if *update {
		os.Exit(updateLogic(*host, *port, os.Stdout, os.Stderr))
	}
	os.Exit(runLogic(*host, *port, os.Stdout, os.Stderr))
}
