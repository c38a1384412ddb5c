package bridge

import (
	"sync"
	"sync/atomic"
)

// Operation names used as keys in Metrics.OperationsTotal.
const (
	OpRequestFolderAccess = "requestFolderAccess"
	OpGetPersistedFolder  = "getPersistedFolder"
	OpListEntries         = "listEntries"
	OpWriteEntry          = "writeEntry"
	OpReadEntry           = "readEntry"
	OpDeleteEntry         = "deleteEntry"
)

// Metrics provides numbers about the usage of the bridge. Since these may
// be accessed from multiple goroutines, it is necessary to read and modify them
// atomically using the functions exposed in the sync/atomic package, such as
// atomic.LoadUint64. In addition the maps must not be modified to prevent data
// races.
type Metrics struct {
	// OperationsTotal counts the number of invocations per operation
	OperationsTotal map[string]*uint64
	// ErrorsTotal counts the number of returned errors by their code
	ErrorsTotal    *ErrorsTotalMap
	BytesWritten   *uint64
	BytesRead      *uint64
	FoldersGranted *uint64
	EntriesWritten *uint64
	EntriesDeleted *uint64
}

func (m Metrics) incOperationsTotal(op string) {
	if ptr, ok := m.OperationsTotal[op]; ok {
		atomic.AddUint64(ptr, 1)
	}
}

func (m Metrics) incErrorsTotal(err error) {
	ptr := m.ErrorsTotal.retrievePointerFor(errorCode(err))
	atomic.AddUint64(ptr, 1)
}

func (m Metrics) incBytesWritten(delta uint64) {
	atomic.AddUint64(m.BytesWritten, delta)
}

func (m Metrics) incBytesRead(delta uint64) {
	atomic.AddUint64(m.BytesRead, delta)
}

func (m Metrics) incFoldersGranted() {
	atomic.AddUint64(m.FoldersGranted, 1)
}

func (m Metrics) incEntriesWritten() {
	atomic.AddUint64(m.EntriesWritten, 1)
}

func (m Metrics) incEntriesDeleted() {
	atomic.AddUint64(m.EntriesDeleted, 1)
}

func newMetrics() Metrics {
	return Metrics{
		OperationsTotal: map[string]*uint64{
			OpRequestFolderAccess: new(uint64),
			OpGetPersistedFolder:  new(uint64),
			OpListEntries:         new(uint64),
			OpWriteEntry:          new(uint64),
			OpReadEntry:           new(uint64),
			OpDeleteEntry:         new(uint64),
		},
		ErrorsTotal:    newErrorsTotalMap(),
		BytesWritten:   new(uint64),
		BytesRead:      new(uint64),
		FoldersGranted: new(uint64),
		EntriesWritten: new(uint64),
		EntriesDeleted: new(uint64),
	}
}

// ErrorsTotalMap stores the counter for the different error codes.
type ErrorsTotalMap struct {
	lock    sync.RWMutex
	counter map[string]*uint64
}

func newErrorsTotalMap() *ErrorsTotalMap {
	return &ErrorsTotalMap{
		counter: make(map[string]*uint64, 16),
	}
}

// retrievePointerFor returns (after creating it if necessary) the pointer to
// the counter for the error code.
func (e *ErrorsTotalMap) retrievePointerFor(code string) *uint64 {
	e.lock.RLock()
	ptr, ok := e.counter[code]
	e.lock.RUnlock()
	if ok {
		return ptr
	}

	// For pointer creation, a write-lock is required
	e.lock.Lock()
	// We ensure that the pointer wasn't created in the meantime
	if ptr, ok = e.counter[code]; !ok {
		ptr = new(uint64)
		e.counter[code] = ptr
	}
	e.lock.Unlock()

	return ptr
}

// Load retrieves the map of the counter pointers atomically
func (e *ErrorsTotalMap) Load() map[string]*uint64 {
	m := make(map[string]*uint64, len(e.counter))
	e.lock.RLock()
	for code, ptr := range e.counter {
		m[code] = ptr
	}
	e.lock.RUnlock()

	return m
}
