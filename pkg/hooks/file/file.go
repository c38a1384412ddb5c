// Package file provides a file-based hook implementation. A directory is
// specified, whose files will be executed for specific hook events. When the
// pre-write event is emitted, the file called pre-write will be executed,
// similar to Git hooks. If such a file does not exist, the event will be
// ignored.
// Information about the event is provided on stdin as JSON and in the
// environment variables. By writing a JSON response to stdout, a pre-write
// hook can reject the write.
package file

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/tus/doctree/pkg/hooks"
)

type FileHook struct {
	Directory string
}

func (FileHook) Setup() error {
	return nil
}

func (h FileHook) InvokeHook(req hooks.HookRequest) (res hooks.HookResponse, err error) {
	hookPath := filepath.Join(h.Directory, string(req.Type))
	cmd := exec.Command(hookPath)
	env := os.Environ()
	env = append(env, "DOCTREE_HOOK="+string(req.Type))
	env = append(env, "DOCTREE_TREE_URI="+req.Event.TreeURI)
	env = append(env, "DOCTREE_NAME="+req.Event.Entry.Name)
	env = append(env, "DOCTREE_SIZE="+strconv.FormatInt(req.Event.Entry.Size, 10))

	jsonReq, err := json.Marshal(req)
	if err != nil {
		return res, err
	}

	cmd.Stdin = bytes.NewReader(jsonReq)
	cmd.Env = env
	cmd.Dir = h.Directory
	cmd.Stderr = os.Stderr

	output, err := cmd.Output()

	// Ignore the error if the hook's file could not be found. This usually
	// means that the user is only using a subset of the available hooks.
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}

	// Report error if the exit code was non-zero
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, fmt.Errorf("unexpected return code %d from hook %s: %s", exitErr.ProcessState.ExitCode(), req.Type, string(output))
	}

	if err != nil {
		return res, err
	}

	// Do not parse the output as JSON, if we received no output to reduce
	// possible errors.
	if len(bytes.TrimSpace(output)) > 0 {
		if err = json.Unmarshal(output, &res); err != nil {
			return res, fmt.Errorf("failed to parse hook response: %w, response was: %s", err, string(output))
		}
	}

	return res, nil
}
