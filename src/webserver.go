package src

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/webdav"
)

// StatusStruct : Response of /status
type StatusStruct struct {
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Running     bool    `json:"running"`
	Connections int64   `json:"connections"`
	Warnings    int     `json:"warnings"`
	Errors      int     `json:"errors"`
	Report      *Report `json:"report,omitempty"`
}

// webserver serves the generated files of an App.
type webserver struct {
	app *App
	// ctx bounds updates started through the API.
	ctx context.Context

	activeHTTPConnections atomic.Int64
}

func (ws *webserver) connState(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		ws.activeHTTPConnections.Add(1)
	case http.StateClosed:
		ws.activeHTTPConnections.Add(-1)
	}
}

// StartWebserver serves the front-end until ctx is done.
func (a *App) StartWebserver(ctx context.Context) error {
	ws := &webserver{app: a, ctx: ctx}

	server := &http.Server{
		Addr:              ":" + a.Settings.Port,
		Handler:           ws.newHTTPHandler(),
		ConnState:         ws.connState,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Screen.Info("Web server:" + "Starting")
	a.Screen.Highlight(fmt.Sprintf("Playlist:http://localhost:%s/m3u", a.Settings.Port))

	var serveErr = make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	a.Screen.Info("Web server:" + "Stopped")
	return err
}

// Playlist : /m3u, /txt and /epg.xml
func (ws *webserver) serveOutput(file, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var path = filepath.Join(ws.app.OutputFolder(), file)

		content, err := readByteFromFile(ws.app.FS, path)
		if err != nil {
			if fsIsNotExistErr(err) {
				httpStatusError(w, r, http.StatusNotFound)
				return
			}
			ws.app.Screen.Error(err)
			httpStatusError(w, r, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, filepath.Base(file)))
		w.Write(content)
	}
}

// Status : /status
func (ws *webserver) Status(w http.ResponseWriter, r *http.Request) {
	var status = StatusStruct{
		Name:        ws.app.Name,
		Version:     ws.app.Version,
		Running:     ws.app.Running(),
		Connections: ws.activeHTTPConnections.Load(),
	}
	status.Warnings, status.Errors = ws.app.Screen.Counts()

	if report, ok := ws.app.LastReport(); ok {
		status.Report = &report
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Printf("Error writing status: %v", err)
	}
}

// API : POST /api/update starts an update in the background.
func (ws *webserver) API(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpStatusError(w, r, http.StatusMethodNotAllowed)
		return
	}

	if ws.app.Running() {
		httpStatusError(w, r, http.StatusConflict)
		return
	}

	go func() {
		if _, err := ws.app.Update(ws.ctx); errors.Is(err, ErrRunInProgress) {
			ws.app.Screen.Warning("Update request ignored, another update is running")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

// WS : Web Sockets /ws streams the log
func (ws *webserver) WS(w http.ResponseWriter, r *http.Request) {
	u := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

	conn, err := u.Upgrade(w, r, w.Header())
	if err != nil {
		ws.app.Screen.Error(err)
		return
	}
	// The connection has been hijacked. ConnState will receive StateHijacked and will NOT receive StateClosed.
	defer ws.activeHTTPConnections.Add(-1)
	defer conn.Close()

	// Clients only send close frames.
	conn.SetReadLimit(1024)

	lines, unsubscribe := ws.app.Screen.Subscribe()
	defer unsubscribe()

	for _, line := range ws.app.Screen.Log() {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	var closed = make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-ws.ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("Error writing websocket message: %v", err)
				}
				return
			}
		}
	}
}

// readOnlyFS exposes a webdav.FileSystem without write access.
type readOnlyFS struct {
	webdav.FileSystem
}

func (readOnlyFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission
}

func (readOnlyFS) RemoveAll(ctx context.Context, name string) error {
	return os.ErrPermission
}

func (readOnlyFS) Rename(ctx context.Context, oldName, newName string) error {
	return os.ErrPermission
}

func (fs readOnlyFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	return fs.FileSystem.OpenFile(ctx, name, flag, perm)
}

// withRouteTag wraps a handler to manually add the http.route attribute to spans and metrics.
func withRouteTag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := r.Pattern; route != "" {
			if labeler, ok := otelhttp.LabelerFromContext(r.Context()); ok {
				labeler.Add(attribute.String("http.route", route))
			}
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("http.route", route))
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func panicMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				span := trace.SpanFromContext(r.Context())

				var panicErr error
				switch x := err.(type) {
				case string:
					panicErr = errors.New(x)
				case error:
					panicErr = x
				default:
					panicErr = fmt.Errorf("panic: %v", x)
				}

				span.RecordError(panicErr)
				span.SetStatus(codes.Error, panicErr.Error())

				panic(err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (ws *webserver) newHTTPHandler() http.Handler {
	mux := http.NewServeMux()

	handleFunc := func(pattern string, handlerFunc func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, withRouteTag(http.HandlerFunc(handlerFunc)))
	}

	var settings = ws.app.Settings

	handleFunc("GET /m3u", ws.serveOutput(settings.OutputM3U, "audio/x-mpegurl; charset=utf-8"))
	handleFunc("GET /txt", ws.serveOutput(settings.OutputTXT, "text/plain; charset=utf-8"))
	handleFunc("GET /epg.xml", ws.serveOutput(settings.EPGFile, "application/xml; charset=utf-8"))
	handleFunc("GET /status", ws.Status)
	handleFunc("/api/update", ws.API)
	handleFunc("GET /ws", ws.WS)

	davHandler := &webdav.Handler{
		Prefix:     "/dav/",
		FileSystem: readOnlyFS{webdav.Dir(ws.app.OutputFolder())},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				log.Printf("WEBDAV ERROR: %s", err)
				span := trace.SpanFromContext(r.Context())
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		},
	}
	mux.Handle("/dav/", withRouteTag(davHandler))

	handler := panicMiddleware(mux)
	handler = securityHeadersMiddleware(handler)
	handler = otelhttp.NewHandler(handler, "/")
	return handler
}

func httpStatusError(w http.ResponseWriter, _ *http.Request, httpStatusCode int) {
	http.Error(w, fmt.Sprintf("%s [%d]", http.StatusText(httpStatusCode), httpStatusCode), httpStatusCode)
}
