// Copyright 2019 marmei. All rights reserved.
// Copyright 2022 senexcrenshaw. All rights reserved.
// Use of this source code is governed by a MIT license that can be found in the
// LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"iptvmerge/src"
	"iptvmerge/src/snap"
	"iptvmerge/src/tracing"
)

// Name : Program Name
const Name = "iptvmerge"

// Version : Program Version
const Version = "1.0.0"

var homeDirectory = fmt.Sprintf("%s%s.%s%s", src.GetUserHomeDirectory(), string(os.PathSeparator), strings.ToLower(Name), string(os.PathSeparator))
var samplePath = fmt.Sprintf("%spath%sto%siptvmerge%s", string(os.PathSeparator), string(os.PathSeparator), string(os.PathSeparator), string(os.PathSeparator))

var configFolder = flag.String("config", "", ": Config Folder        ["+samplePath+"] (default: "+homeDirectory+")")
var port = flag.String("port", "", ": Server port          [34400] (default: 34400)")

var debug = flag.Int("debug", 0, ": Debug level          [0 - 3] (default: 0)")
var quiet = flag.Bool("quiet", false, ": Only show warnings and errors")
var serve = flag.Bool("serve", false, ": Keep running: serve the playlists and update at the scheduled times")
var info = flag.Bool("info", false, ": Show system info")
var version = flag.Bool("version", false, ": Show system version")
var h = flag.Bool("h", false, ": Show help")

func main() {
	if err := run(); err != nil {
		log.Fatalln(err)
	}
}

func run() (err error) {
	// Handle SIGINT (CTRL+C) and SIGTERM gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flag.Parse()

	if *h {
		flag.Usage()
		return nil
	}

	if *version {
		fmt.Println(Name, Version)
		return nil
	}

	if *debug < 0 || *debug > 3 {
		flag.Usage()
		return nil
	}

	// Set up OpenTelemetry.
	if err := snap.LoadEnv("otel.env"); err != nil {
		log.Printf("could not load otel.env from snap: %v", err)
	}

	otelExporterType, err := snap.Lookup("OTEL_EXPORTER_TYPE", "otel-exporter-type")
	if err != nil {
		log.Printf("could not get otel-exporter-type from snap: %v", err)
	}

	otelShutdown, err := tracing.SetupOTelSDK(ctx, tracing.Config{
		ExporterType:   tracing.ParseExporterType(otelExporterType),
		ServiceName:    Name,
		ServiceVersion: Version,
	})
	if err != nil {
		return
	}
	// Handle shutdown properly so nothing leaks.
	defer func() {
		err = errors.Join(err, otelShutdown(context.Background()))
	}()

	// Panic
	defer func() {
		if r := recover(); r != nil {
			fmt.Println()
			fmt.Println("* * * * * FATAL ERROR * * * * *")
			fmt.Println("OS:  ", runtime.GOOS)
			fmt.Println("Arch:", runtime.GOARCH)
			fmt.Println("Err: ", r)
			fmt.Println()

			pc := make([]uintptr, 20)
			runtime.Callers(2, pc)

			for i := range pc {
				if f := runtime.FuncForPC(pc[i]); f != nil {
					file, line := f.FileLine(pc[i])
					if file[0:1] != "?" {
						fmt.Printf("%s:%d %s\n", filepath.Base(file), line, f.Name())
					}
				}
			}

			fmt.Println()
			fmt.Println("* * * * * * * * * * * * * * * *")

			err = fmt.Errorf("panic: %v", r)
		}
	}()

	app, err := src.Init(Name, Version, src.Flags{
		Config: *configFolder,
		Port:   *port,
		Debug:  *debug,
		Quiet:  *quiet,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, app.Close())
	}()

	// Display System Information
	if *info {
		app.ShowSystemInfo()
		return nil
	}

	if !*serve {
		_, err = app.Update(ctx)
		return err
	}

	go func() {
		if _, err := app.Update(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.Screen.Warning("Initial update failed, waiting for the next scheduled update")
		}
	}()

	go app.StartMaintenance(ctx)

	err = app.StartWebserver(ctx)

	// Stop receiving signal notifications as soon as possible.
	stop()

	return err
}
