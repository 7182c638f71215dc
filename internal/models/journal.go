package models

import "time"

// JournalEntry is one line of the shared journal. Entries are never mutated
// once appended.
type JournalEntry struct {
	Stage     string    `json:"stage"`
	Actor     string    `json:"actor"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
