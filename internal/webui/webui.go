// Package webui serves saturnd's optional debug admin page: a direct
// descendant of bradfitz-runsit's web.go (taskList/taskView), re-pointed at
// protocol.Task/Run instead of jsonconfig-configured long-lived daemons, and
// with no kill action (the protocol's REMOVE_TASK already covers that, over
// the pipes, not an HTTP side-channel). Off by default; enabled with
// -debug-http.
package webui

import (
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"danga.com/saturnd/internal/logbuf"
	"danga.com/saturnd/internal/registry"
)

// Server is the debug admin HTTP server.
type Server struct {
	registry *registry.Registry
	ring     *logbuf.Ring
}

// New builds a Server reading from reg and ring.
func New(reg *registry.Registry, ring *logbuf.Ring) *Server {
	return &Server{registry: reg, ring: ring}
}

func writerf(w io.Writer) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		fmt.Fprintf(w, format, args...)
	}
}

func (s *Server) taskList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	p := writerf(w)
	p("<html><head><title>saturnd</title></head>")
	p("<body><h1>saturnd admin</h1><h2>tasks</h2><ul>\n")
	for _, t := range s.registry.SnapshotRunning() {
		p("<li><a href='/task/%d'>%d</a>: %s</li>\n", t.ID, t.ID, html.EscapeString(fmt.Sprint(t.Commandline)))
	}
	p("</ul>\n")
	p("<h2>log</h2><pre>%s</pre>\n", html.EscapeString(s.ring.String()))
	p("</body></html>\n")
}

func (s *Server) taskView(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Path[len("/task/"):]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	wk, ok := s.registry.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	task := wk.Task()
	p := writerf(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	p("<html><head><title>saturnd; task %d</title></head>", id)
	p("<body><div>[<a href='/'>saturnd status</a>]</div><h1>task %d</h1>\n", id)
	p("<p>commandline: %s</p>\n", html.EscapeString(fmt.Sprint(task.Commandline)))
	p("<p>timing: minutes=%#x hours=%#x daysofweek=%#x</p>\n", task.Timing.Minutes, task.Timing.Hours, task.Timing.DaysOfWeek)

	p("<h2>runs</h2><table>\n")
	for _, run := range wk.Runs() {
		t := time.Unix(int64(run.Time), 0).UTC()
		p("<tr><td>%s</td><td>0x%04x</td></tr>\n", t.Format(time.RFC3339), run.ExitCode)
	}
	p("</table>\n")

	if out, ran := wk.LastStdout(); ran {
		p("<h2>last stdout</h2><pre>%s</pre>\n", html.EscapeString(out))
	}
	if out, ran := wk.LastStderr(); ran {
		p("<h2>last stderr</h2><pre>%s</pre>\n", html.EscapeString(out))
	}
	p("</body></html>\n")
}

// Serve runs the debug HTTP server on ln until it errors or is closed.
// Callers typically run it in its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.taskList)
	mux.HandleFunc("/task/", s.taskView)
	srv := &http.Server{Handler: mux}
	return srv.Serve(ln)
}

// Listen binds addr for Serve. addr should be a loopback address (e.g.
// "127.0.0.1:4762"); this page has no authentication, matching the
// teacher's localhost-only admin UI posture.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
