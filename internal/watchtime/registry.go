package watchtime

import (
	"sync"
)

// Registry holds the running sessions of this instance (thread-safe).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Start registers s and starts it. The session leaves the registry on its
// own when its loop exits.
func (reg *Registry) Start(s *Session) {
	reg.mu.Lock()
	if reg.sessions[s.ID] != nil {
		reg.mu.Unlock()
		return
	}
	reg.sessions[s.ID] = s
	reg.mu.Unlock()

	s.Start()
	go func() {
		<-s.Done()
		reg.mu.Lock()
		if reg.sessions[s.ID] == s {
			delete(reg.sessions, s.ID)
		}
		reg.mu.Unlock()
	}()
}

// Stop stops the session with id and removes it.
func (reg *Registry) Stop(id string) {
	reg.mu.Lock()
	s := reg.sessions[id]
	delete(reg.sessions, id)
	reg.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// StopUser stops every session of userID, e.g. on sign-out.
func (reg *Registry) StopUser(userID string) int {
	reg.mu.Lock()
	var victims []*Session
	for id, s := range reg.sessions {
		if s.UserID() == userID {
			victims = append(victims, s)
			delete(reg.sessions, id)
		}
	}
	reg.mu.Unlock()
	stopAll(victims)
	return len(victims)
}

// StopAll stops every session; used on shutdown.
func (reg *Registry) StopAll() {
	reg.mu.Lock()
	victims := make([]*Session, 0, len(reg.sessions))
	for id, s := range reg.sessions {
		victims = append(victims, s)
		delete(reg.sessions, id)
	}
	reg.mu.Unlock()
	stopAll(victims)
}

// Count returns the number of running sessions.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.sessions)
}

// CountPair returns how many sessions credit the same (user, tutorial) pair,
// i.e. duplicate tabs.
func (reg *Registry) CountPair(userID, tutorialID string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	n := 0
	for _, s := range reg.sessions {
		if s.tutorialID == tutorialID && s.UserID() == userID {
			n++
		}
	}
	return n
}

func stopAll(sessions []*Session) {
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}
