package pipeline

import (
	"slices"
	"sync"
)

// workFiles records the work files each open run still needs. It is keyed
// by run ID so a repeated Cleanup releases nothing twice.
type workFiles struct {
	mu   sync.Mutex
	runs map[string][]string
}

func (w *workFiles) hold(runID, path string) {
	if path == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runs == nil {
		w.runs = make(map[string][]string)
	}
	if !slices.Contains(w.runs[runID], path) {
		w.runs[runID] = append(w.runs[runID], path)
	}
}

func (w *workFiles) drop(runID, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	held := slices.DeleteFunc(w.runs[runID], func(p string) bool { return p == path })
	if len(held) == 0 {
		delete(w.runs, runID)
		return
	}
	w.runs[runID] = held
}

func (w *workFiles) release(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.runs, runID)
}

func (w *workFiles) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, paths := range w.runs {
		out = append(out, paths...)
	}
	return out
}

// InUse lists the work files held by runs that have not been cleaned up.
// The janitor must leave them alone whatever their age.
func (e *Engine) InUse() []string {
	return e.files.list()
}
