package cli

import (
	"fmt"
	"io"
)

var VersionName = "n/a"
var GitCommit = "n/a"
var BuildDate = "n/a"

func ShowVersion(w io.Writer) {
	fmt.Fprintf(w, "Version: %s\nCommit: %s\nDate: %s\n", VersionName, GitCommit, BuildDate)
}
