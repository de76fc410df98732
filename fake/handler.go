// File: fake/handler.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/lwm2mux/api"
)

// Recorder is a MonitoringHandler that remembers every client id it was given.
// It is safe to share between servers.
type Recorder struct {
	Name string

	mu     sync.Mutex
	calls  []uint16
	result string
}

var _ api.MonitoringHandler = (*Recorder)(nil)

// NewRecorder creates a named recorder.
func NewRecorder(name string) *Recorder {
	return &Recorder{Name: name}
}

// Monitor implements api.MonitoringHandler.
func (r *Recorder) Monitor(clientID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, clientID)
	r.result = fmt.Sprintf("monitor called on %s for client %d", r.Name, clientID)
}

// Calls returns the recorded client ids in call order.
func (r *Recorder) Calls() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.calls...)
}

// Result returns the description of the last call, or "" if none.
func (r *Recorder) Result() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}
