package cli

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"strings"

	"github.com/bmizerany/pat"
	"github.com/felixge/fgprof"
	"github.com/goji/httpauth"
)

// SetupPprof mounts the profiling endpoints at -pprof-path. If
// DOCTREE_PPROF_AUTH contains user:password, they are protected using basic
// authentication.
func SetupPprof(globalMux *http.ServeMux) error {
	runtime.SetBlockProfileRate(Flags.PprofBlockProfileRate)
	runtime.SetMutexProfileFraction(Flags.PprofMutexProfileRate)

	mux := pat.New()
	mux.Get("", http.HandlerFunc(pprof.Index))
	mux.Get("cmdline", http.HandlerFunc(pprof.Cmdline))
	mux.Get("profile", http.HandlerFunc(pprof.Profile))
	mux.Get("symbol", http.HandlerFunc(pprof.Symbol))
	mux.Get("trace", http.HandlerFunc(pprof.Trace))
	mux.Get("fgprof", fgprof.Handler())
	mux.Get(":profile", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pprof.Handler(r.URL.Query().Get(":profile")).ServeHTTP(w, r)
	}))

	var handler http.Handler = mux
	if auth := os.Getenv(EnvPrefix + "_PPROF_AUTH"); auth != "" {
		user, password, ok := strings.Cut(auth, ":")
		if !ok {
			return errors.New(EnvPrefix + "_PPROF_AUTH must be two values separated by a colon")
		}

		handler = httpauth.SimpleBasicAuth(user, password)(mux)
	}

	globalMux.Handle(Flags.PprofPath, http.StripPrefix(Flags.PprofPath, handler))

	printStartupLog("Using %s as the pprof path.\n", Flags.PprofPath)

	return nil
}
