package ledger

import (
	"sync"
	"time"

	"github.com/ashureev/ledgerchat/internal/domain"
)

// JournalEntry is one action seen by Execute.
type JournalEntry struct {
	Action      domain.SmartContractAction
	ConfirmedAt time.Time
}

// MemoryJournal keeps executed actions in memory.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

// Record implements Journal.
func (j *MemoryJournal) Record(act domain.SmartContractAction, confirmedAt time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, JournalEntry{Action: act.Clone(), ConfirmedAt: confirmedAt})
}

// Entries returns a copy of everything recorded so far.
func (j *MemoryJournal) Entries() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]JournalEntry(nil), j.entries...)
}

// Count returns how many times actionID was executed.
func (j *MemoryJournal) Count(actionID string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.entries {
		if e.Action.ID == actionID {
			n++
		}
	}
	return n
}
