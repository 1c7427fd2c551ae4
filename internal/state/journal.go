package state

import (
	"context"
	"encoding/json"
	"strings"
)

// LastTradeKey holds the most recent journal entry as JSON.
const LastTradeKey = "journal:last"

// JournalEntry is the audit record of one trade lifecycle transition. It is
// written for operators and never read back to restore trading state.
type JournalEntry struct {
	Kind       string  `json:"kind"`
	Phase      string  `json:"phase"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side,omitempty"`
	PositionID string  `json:"position_id,omitempty"`
	EntryPrice float64 `json:"entry_price,omitempty"`
	Size       float64 `json:"size,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	AtMS       int64   `json:"at_ms"`
}

// Journal is implemented by stores that keep the full transition history.
type Journal interface {
	AppendJournal(ctx context.Context, entry JournalEntry) error
	RecentJournal(ctx context.Context, limit int) ([]JournalEntry, error)
}

func LoadLastTrade(ctx context.Context, store Store) (JournalEntry, bool, error) {
	if store == nil {
		return JournalEntry{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, LastTradeKey)
	if err != nil {
		return JournalEntry{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return JournalEntry{}, false, nil
	}
	var entry JournalEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return JournalEntry{}, false, err
	}
	return entry, true, nil
}

// SaveTrade records entry as the latest transition and, when the store
// keeps history, appends it to the journal.
func SaveTrade(ctx context.Context, store Store, entry JournalEntry) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, LastTradeKey, string(payload)); err != nil {
		return err
	}
	if journal, ok := store.(Journal); ok {
		return journal.AppendJournal(ctx, entry)
	}
	return nil
}
