package hub

import (
	"fmt"
	"sync"
)

// ownerTable tracks the client considered to own each thread.
type ownerTable struct {
	mu       sync.RWMutex
	byThread map[string]string
}

func newOwnerTable() *ownerTable {
	return &ownerTable{byThread: make(map[string]string)}
}

func (o *ownerTable) set(threadID, clientID string) {
	if clientID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byThread[threadID] = clientID
}

func (o *ownerTable) get(threadID string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	clientID, ok := o.byThread[threadID]
	return clientID, ok
}

// resolve returns the owner client id for a thread. The recorded owner
// wins when one exists; an override is honored only for threads with no
// recorded owner. A thread with neither is an error: operations that
// need an owner cannot guess one.
func (o *ownerTable) resolve(threadID, override string) (string, error) {
	if owner, ok := o.get(threadID); ok {
		return owner, nil
	}
	if override != "" {
		return override, nil
	}
	return "", fmt.Errorf("no owner client id known for thread %q and no override supplied", threadID)
}
