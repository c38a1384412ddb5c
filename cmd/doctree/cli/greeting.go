package cli

import (
	"fmt"
	"net/http"
)

var greeting string

func PrepareGreeting() {
	greeting = fmt.Sprintf(
		`Welcome to doctree
==================

doctree is running and keeps a persisted grant for one folder. This is the root
of the server, the bridge operations are served below %[1]s:

  POST %[1]srequestFolderAccess
  GET  %[1]sgetPersistedFolder
  GET  %[1]slistEntries
  POST %[1]swriteEntry
  POST %[1]sreadEntry
  POST %[1]sdeleteEntry
  GET  %[1]sselection
  POST %[1]sselection/{token}

Version = %[2]s
GitCommit = %[3]s
BuildDate = %[4]s
`, Flags.Basepath, VersionName, GitCommit, BuildDate)
}

func DisplayGreeting(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(greeting))
}
