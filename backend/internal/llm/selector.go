package llm

import "sync"

// Selector holds the process-wide current model choice. Rate-limit failover
// mutates it, so a backup chosen for one call becomes the default for every
// later call in the process. Access is guarded because generation workflows
// may run on concurrent request goroutines.
type Selector struct {
	mu      sync.RWMutex
	current string
	backups []string
}

// NewSelector creates a selector with the default model and backup list
func NewSelector(defaultModel string, backups []string) *Selector {
	return &Selector{
		current: defaultModel,
		backups: backups,
	}
}

// Current returns the model used for the next call
func (s *Selector) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set updates the current model
func (s *Selector) Set(model string) {
	if model == "" {
		return
	}
	s.mu.Lock()
	s.current = model
	s.mu.Unlock()
}

// Backups returns the configured fallback model list
func (s *Selector) Backups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backups
}

// NextBackup returns the first backup model distinct from the given one
func (s *Selector) NextBackup(current string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, backup := range s.backups {
		if backup != current {
			return backup, true
		}
	}
	return "", false
}
