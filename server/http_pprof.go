// Debug tooling. Dumps named profile in response to HTTP request at
// 		http(s)://<host-name>/<configured-path>/<profile-name>
// See godoc for the list of possible profile names: https://golang.org/pkg/runtime/pprof/#Profile

package main

import (
	"fmt"
	"net/http"
	"path"
	"runtime/pprof"

	"github.com/aigentx/gateway/server/logs"
	"github.com/go-chi/chi/v5"
)

// Expose debug profiling at the given URL path. Profiles are root-only.
func servePprof(r chi.Router, serveAt string) {
	if serveAt == "" || serveAt == "-" {
		return
	}

	root := path.Clean("/" + serveAt)
	r.With(requireRootKey).Get(root+"/{profile}", profileHandler)

	logs.Info.Printf("pprof: profiling info exposed at '%s/'", root)
}

func profileHandler(wrt http.ResponseWriter, req *http.Request) {
	wrt.Header().Set("X-Content-Type-Options", "nosniff")
	wrt.Header().Set("Content-Type", "text/plain; charset=utf-8")

	profileName := chi.URLParam(req, "profile")

	profile := pprof.Lookup(profileName)
	if profile == nil {
		servePprofError(wrt, http.StatusNotFound, "Unknown profile '"+profileName+"'")
		return
	}

	// Full stacks for goroutine dumps.
	debug := 1
	if profileName == "goroutine" {
		debug = 2
	}
	profile.WriteTo(wrt, debug)
}

func servePprofError(wrt http.ResponseWriter, status int, txt string) {
	wrt.Header().Set("X-Go-Pprof", "1")
	wrt.Header().Del("Content-Disposition")
	wrt.WriteHeader(status)
	fmt.Fprintln(wrt, txt)
}
