package bridge

import (
	"time"

	"github.com/tus/doctree/internal/uid"
)

// pendingSelection is the slot in which the result for exactly one folder
// selection is delivered. The channel is buffered, so CompleteSelection never
// blocks.
type pendingSelection struct {
	request SelectionRequest
	results chan SelectionResult
}

// beginSelection issues a new request token and registers its slot.
func (b *FolderAccessBridge) beginSelection() (SelectionRequest, <-chan SelectionResult) {
	req := SelectionRequest{
		Token:     uid.Uid(),
		Flags:     PermissionReadWrite,
		CreatedAt: time.Now(),
	}
	results := make(chan SelectionResult, 1)

	b.pendingMutex.Lock()
	b.pending[req.Token] = &pendingSelection{
		request: req,
		results: results,
	}
	b.pendingMutex.Unlock()

	return req, results
}

// endSelection removes the slot for the token. If a result has been delivered
// before the slot was removed, it is returned with ok set to true.
func (b *FolderAccessBridge) endSelection(token string) (result SelectionResult, ok bool) {
	b.pendingMutex.Lock()
	pending, found := b.pending[token]
	delete(b.pending, token)
	b.pendingMutex.Unlock()

	if !found {
		return SelectionResult{}, false
	}

	select {
	case result = <-pending.results:
		return result, true
	default:
		return SelectionResult{}, false
	}
}

// CompleteSelection delivers the picker result for the selection identified by
// token. Results for unknown tokens, for selections which already resolved, or
// duplicate results are rejected with ErrUnknownSelection.
func (b *FolderAccessBridge) CompleteSelection(token string, result SelectionResult) error {
	b.pendingMutex.Lock()
	defer b.pendingMutex.Unlock()

	pending, ok := b.pending[token]
	if !ok {
		b.logger.Warn("SelectionResultRejected", "token", token)
		return ErrUnknownSelection
	}

	select {
	case pending.results <- result:
		return nil
	default:
		// A result has already been delivered for this token.
		b.logger.Warn("SelectionResultDuplicate", "token", token)
		return ErrUnknownSelection
	}
}

// PendingSelection returns the outstanding folder selection, if any. It allows
// picker hosts in other processes to discover the token they must answer to.
func (b *FolderAccessBridge) PendingSelection() (SelectionRequest, bool) {
	b.pendingMutex.Lock()
	defer b.pendingMutex.Unlock()

	var (
		oldest SelectionRequest
		found  bool
	)
	for _, pending := range b.pending {
		if !found || pending.request.CreatedAt.Before(oldest.CreatedAt) {
			oldest = pending.request
			found = true
		}
	}

	return oldest, found
}
