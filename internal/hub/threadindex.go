package hub

import "sync"

// ThreadIndex maps a thread id to the agent that owns it. Entries are
// written as threads are created or discovered and live for the process
// lifetime; re-registering a thread overwrites its owner.
type ThreadIndex struct {
	mu       sync.RWMutex
	byThread map[string]string
}

func NewThreadIndex() *ThreadIndex {
	return &ThreadIndex{byThread: make(map[string]string)}
}

func (i *ThreadIndex) Register(threadID, agentID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byThread[threadID] = agentID
}

func (i *ThreadIndex) Resolve(threadID string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	agentID, ok := i.byThread[threadID]
	return agentID, ok
}

func (i *ThreadIndex) List() map[string]string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	entries := make(map[string]string, len(i.byThread))
	for threadID, agentID := range i.byThread {
		entries[threadID] = agentID
	}
	return entries
}
