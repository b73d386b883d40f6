// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package dashboard implements an HTML view of an rdb server.
//
// The dashboard is an ordinary protocol client: each page request opens a
// session, issues the commands it needs, and closes the session again, so
// that the dashboard does not hold the server's only session while idle.
package dashboard

import (
	"context"
	"expvar"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"

	"github.com/creachadair/rdb"
	"github.com/julienschmidt/httprouter"
)

// A Source is a session with an rdb server.
type Source interface {
	ListThreads(context.Context) ([]rdb.ThreadID, error)
	Stack(context.Context, rdb.ThreadID) ([]string, error)
	Locals(context.Context, rdb.ThreadID) ([]rdb.Binding, error)
	Globals(context.Context, rdb.ThreadID) ([]rdb.Binding, error)
	Close() error
}

// A DialFunc opens a new session for one page request.
type DialFunc func(context.Context) (Source, error)

// internalMarker is a call present on the stack of a thread that serves the
// protocol on behalf of the inspected process.
const internalMarker = "in github.com/creachadair/rdb/listener."

// Server serves the dashboard pages. It implements http.Handler.
type Server struct {
	dial   DialFunc
	router *httprouter.Router
}

// New constructs a dashboard server that opens sessions with dial.
func New(dial DialFunc) *Server {
	s := &Server{dial: dial, router: httprouter.New()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/thread/:id", s.handleThread)
	s.router.GET("/health", s.handleHealth)
	s.router.Handler(http.MethodGet, "/debug/vars", expvar.Handler())
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// threadInfo is one row of the thread index.
type threadInfo struct {
	ID  rdb.ThreadID
	Top string // innermost call
}

// indexPage describes the inspected server, as reported by its globals, and
// the host running the dashboard itself.
type indexPage struct {
	ServerHost string
	ServerPID  string
	Internal   []threadInfo
	User       []threadInfo

	Hostname  string // of the dashboard
	Arch      string
	GoVersion string
	Modules   []*debug.Module
}

type threadPage struct {
	ID      rdb.ThreadID
	Stack   []string
	Locals  []rdb.Binding
	Globals []rdb.Binding
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	src, err := s.dial(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to connect: %v", err), http.StatusBadGateway)
		return
	}
	defer func() { src.Close() }()

	ids, err := src.ListThreads(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list threads: %v", err), http.StatusBadGateway)
		return
	}
	page := indexPage{
		Arch:      runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion: runtime.Version(),
	}
	page.Hostname, _ = os.Hostname()
	if bi, ok := debug.ReadBuildInfo(); ok {
		page.Modules = append([]*debug.Module{&bi.Main}, bi.Deps...)
	}
	var last rdb.ThreadID
	var anyLive bool
	for _, id := range ids {
		stack, err := src.Stack(ctx, id)
		if err != nil {
			// Any failure ends the session. A thread that has exited since it
			// was listed is skipped on a fresh session.
			src.Close()
			var gone bool
			src, gone, err = s.redial(ctx, id)
			if err == nil && gone {
				continue
			} else if err == nil {
				err = fmt.Errorf("thread %d is still listed", id)
			}
			http.Error(w, fmt.Sprintf("Failed to get stack of thread %d: %v", id, err), http.StatusBadGateway)
			return
		}
		last, anyLive = id, true
		ti := threadInfo{ID: id}
		if len(stack) != 0 {
			ti.Top = strings.TrimSpace(stack[len(stack)-1])
		}
		if isInternal(stack) {
			page.Internal = append(page.Internal, ti)
		} else {
			page.User = append(page.User, ti)
		}
	}

	// Globals are shared by all threads, and are best-effort here.
	if anyLive {
		if gs, err := src.Globals(ctx, last); err == nil {
			page.ServerHost, page.ServerPID = serverInfo(gs)
		}
	}
	render(w, indexTemplate, page)
}

// redial opens a new session and reports whether id is no longer listed.
// On error, the returned source is a placeholder that is safe to close.
func (s *Server) redial(ctx context.Context, id rdb.ThreadID) (Source, bool, error) {
	src, err := s.dial(ctx)
	if err != nil {
		return closed{}, false, err
	}
	ids, err := src.ListThreads(ctx)
	if err != nil {
		return src, false, err
	}
	return src, !slices.Contains(ids, id), nil
}

// closed is a Source whose session has already ended.
type closed struct{ Source }

func (closed) Close() error { return nil }

// serverInfo extracts the host name and process ID of the inspected server
// from its globals.
func serverInfo(globals []rdb.Binding) (host, pid string) {
	for _, b := range globals {
		switch b.Name {
		case "hostname":
			host = b.Value
			if u, err := strconv.Unquote(b.Value); err == nil {
				host = u
			}
		case "pid":
			pid = b.Value
		}
	}
	return host, pid
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseUint(ps.ByName("id"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid thread ID %q", ps.ByName("id")), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	src, err := s.dial(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to connect: %v", err), http.StatusBadGateway)
		return
	}
	defer src.Close()

	// An unknown thread ends the session, so check first.
	ids, err := src.ListThreads(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list threads: %v", err), http.StatusBadGateway)
		return
	}
	tid := rdb.ThreadID(id)
	if !slices.Contains(ids, tid) {
		http.NotFound(w, r)
		return
	}

	page := threadPage{ID: tid}
	if page.Stack, err = src.Stack(ctx, tid); err == nil {
		if page.Locals, err = src.Locals(ctx, tid); err == nil {
			page.Globals, err = src.Globals(ctx, tid)
		}
	}
	if err != nil {
		// The thread may have exited since it was listed.
		http.Error(w, fmt.Sprintf("Failed to inspect thread %d: %v", tid, err), http.StatusBadGateway)
		return
	}
	render(w, threadTemplate, page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	src, err := s.dial(r.Context())
	if err != nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	defer src.Close()
	if _, err := src.ListThreads(r.Context()); err != nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func render(w http.ResponseWriter, t *template.Template, data any) {
	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		http.Error(w, fmt.Sprintf("Failed to render template: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(buf.String()))
}

// isInternal reports whether stack belongs to a thread of the rdb server.
func isInternal(stack []string) bool {
	return slices.ContainsFunc(stack, func(s string) bool { return strings.Contains(s, internalMarker) })
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>rdb: threads</title></head>
<body>
<h1>Threads</h1>
{{if .ServerHost}}<p>Server {{.ServerHost}}{{with .ServerPID}} (pid {{.}}){{end}}</p>
{{end}}
<h2>User threads</h2>
{{if .User}}<ul>
{{range .User}}<li><a href="/thread/{{.ID}}">{{.ID}}</a> <code>{{.Top}}</code></li>
{{end}}</ul>{{else}}<p>None.</p>{{end}}
<h2>Internal threads</h2>
{{if .Internal}}<ul>
{{range .Internal}}<li><a href="/thread/{{.ID}}">{{.ID}}</a> <code>{{.Top}}</code></li>
{{end}}</ul>{{else}}<p>None.</p>{{end}}
<h2>Dashboard</h2>
<p>Running on {{.Hostname}} ({{.Arch}}, {{.GoVersion}})</p>
<table>
{{range .Modules}}<tr><td>{{.Path}}</td><td>{{.Version}}</td></tr>
{{end}}</table>
</body></html>
`))

var threadTemplate = template.Must(template.New("thread").Parse(`<!DOCTYPE html>
<html><head><title>rdb: thread {{.ID}}</title></head>
<body>
<p><a href="/">All threads</a></p>
<h1>Thread {{.ID}}</h1>
<h2>Stack</h2>
<pre>{{range .Stack}}{{.}}
{{end}}</pre>
<h2>Locals</h2>
<table>
{{range .Locals}}<tr><td>{{.Name}}</td><td><code>{{.Value}}</code></td></tr>
{{end}}</table>
<h2>Globals</h2>
<table>
{{range .Globals}}<tr><td>{{.Name}}</td><td><code>{{.Value}}</code></td></tr>
{{end}}</table>
</body></html>
`))
