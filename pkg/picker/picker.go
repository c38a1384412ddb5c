// Package picker provides folder pickers for hosts without a native directory
// chooser.
//
// A picker only presents the request. The chosen folder is delivered back to
// the bridge using FolderAccessBridge.CompleteSelection, so pickers must be
// bound to the bridge once it has been created:
//
//	composer := bridge.NewComposer()
//	p := picker.NewTerminalPicker(os.Stdin, os.Stderr)
//	p.UseIn(composer)
//	b, err := bridge.New(bridge.Config{Composer: composer})
//	p.Bind(b)
package picker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/tus/doctree/pkg/bridge"
	"github.com/tus/doctree/pkg/dirprovider"
)

// ErrNotBound is returned by ShowPicker if the picker has not been bound to a
// bridge yet.
var ErrNotBound = errors.New("picker: not bound to a bridge")

// Completer receives the results of folder selections. It is implemented by
// *bridge.FolderAccessBridge.
type Completer interface {
	CompleteSelection(token string, result bridge.SelectionResult) error
}

// TerminalPicker asks for a folder on a terminal. The answer is a single line
// containing either a tree URI or a local path. Local paths are converted to
// file:// URIs. An empty line or the end of the input cancels the selection.
type TerminalPicker struct {
	// Prompt is written before every selection. Defaults to
	// "Folder to grant access to (empty to cancel): ".
	Prompt string
	Logger *slog.Logger

	in  *bufio.Reader
	out io.Writer

	mutex     sync.Mutex
	completer Completer
	// token is the selection which the next line answers. Only one line is
	// read at a time, even if a selection timed out while waiting for it.
	token   string
	flags   bridge.PermissionFlags
	reading bool
}

// NewTerminalPicker creates a picker reading answers from in and writing
// prompts to out.
func NewTerminalPicker(in io.Reader, out io.Writer) *TerminalPicker {
	return &TerminalPicker{
		Prompt: "Folder to grant access to (empty to cancel): ",
		Logger: slog.Default(),
		in:     bufio.NewReader(in),
		out:    out,
	}
}

// UseIn sets this picker as the picker in the passed composer.
func (p *TerminalPicker) UseIn(composer *bridge.Composer) {
	composer.UsePicker(p)
}

// Bind sets the receiver of the selection results.
func (p *TerminalPicker) Bind(completer Completer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.completer = completer
}

func (p *TerminalPicker) ShowPicker(ctx context.Context, req bridge.SelectionRequest) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.completer == nil {
		return ErrNotBound
	}

	if _, err := io.WriteString(p.out, p.Prompt); err != nil {
		return fmt.Errorf("picker: failed to write prompt: %w", err)
	}

	p.token = req.Token
	p.flags = req.Flags
	if !p.reading {
		p.reading = true
		go p.readAnswer()
	}

	return nil
}

func (p *TerminalPicker) readAnswer() {
	line, err := p.in.ReadString('\n')

	p.mutex.Lock()
	token, flags, completer := p.token, p.flags, p.completer
	p.token = ""
	p.reading = false
	p.mutex.Unlock()

	if err != nil && !errors.Is(err, io.EOF) {
		p.Logger.Error("PickerReadError", "error", err)
	}

	result, parseErr := parseAnswer(line, flags)
	if parseErr != nil {
		p.Logger.Warn("PickerInvalidAnswer", "answer", line, "error", parseErr)
		result = bridge.SelectionResult{Confirmed: false}
	}

	if token == "" {
		return
	}
	if err := completer.CompleteSelection(token, result); err != nil {
		p.Logger.Warn("PickerResultRejected", "token", token, "error", err)
	}
}

// parseAnswer converts a line entered by the user into a selection result.
func parseAnswer(line string, flags bridge.PermissionFlags) (bridge.SelectionResult, error) {
	answer := strings.TrimSpace(line)
	if answer == "" {
		return bridge.SelectionResult{Confirmed: false}, nil
	}

	uri := answer
	if !strings.Contains(answer, "://") {
		var err error
		uri, err = dirprovider.URIFromPath(answer)
		if err != nil {
			return bridge.SelectionResult{}, err
		}
	}

	return bridge.SelectionResult{
		Confirmed: true,
		TreeURI:   uri,
		Flags:     flags,
	}, nil
}

// RemotePicker is used if the user interface lives in another process. It
// does not present anything on its own. Instead, the UI host polls
// FolderAccessBridge.PendingSelection (GET /selection on the HTTP surface)
// and answers using CompleteSelection (POST /selection/{token}).
type RemotePicker struct {
	Logger *slog.Logger

	mutex sync.Mutex
	last  bridge.SelectionRequest
	shown int
}

// NewRemotePicker creates a new picker for remote UI hosts.
func NewRemotePicker() *RemotePicker {
	return &RemotePicker{
		Logger: slog.Default(),
	}
}

// UseIn sets this picker as the picker in the passed composer.
func (p *RemotePicker) UseIn(composer *bridge.Composer) {
	composer.UsePicker(p)
}

func (p *RemotePicker) ShowPicker(ctx context.Context, req bridge.SelectionRequest) error {
	p.mutex.Lock()
	p.last = req
	p.shown += 1
	p.mutex.Unlock()

	p.Logger.Info("SelectionAwaitingHost", "token", req.Token, "flags", req.Flags)
	return nil
}

// LastRequest returns the most recent request and how many requests have been
// presented in total.
func (p *RemotePicker) LastRequest() (req bridge.SelectionRequest, shown int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.last, p.shown
}
