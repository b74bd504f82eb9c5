package deferred

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ticket is the handle of one submitted command while its caller waits on it.
type Ticket struct {
	ID        string
	Command   Command
	Submitted time.Time
}

// Tickets is a thread-safe registry of in-flight tickets.
type Tickets struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket
}

// NewTickets creates an empty registry.
func NewTickets() *Tickets {
	return &Tickets{
		tickets: make(map[string]*Ticket),
	}
}

// Begin registers a ticket for cmd under a fresh unique id.
func (t *Tickets) Begin(cmd Command) *Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk := &Ticket{
		ID:        uuid.NewString(),
		Command:   cmd,
		Submitted: time.Now(),
	}
	t.tickets[tk.ID] = tk
	return tk
}

// Clear forgets a ticket once its wait has ended.
func (t *Tickets) Clear(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tickets, id)
}

// Len returns the number of in-flight tickets.
func (t *Tickets) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tickets)
}
