package convo

import (
	"cmp"
	"slices"

	"gallerio/internal/domain"
)

// Entry is a message as displayed, with attribution resolved against the current identity.
type Entry struct {
	domain.Message
	Sent bool
}

// thread keeps only messages exchanged by self and peer, ordered by creation time then id.
// The input slice is not modified.
func thread(messages []domain.Message, selfID, peerID int64) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	seen := make(map[int64]bool, len(messages))
	for _, m := range messages {
		if !m.Between(selfID, peerID) {
			continue
		}
		if m.ID != 0 {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b domain.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// attribute marks each message sent or received from selfID's point of view.
func attribute(messages []domain.Message, selfID int64) []Entry {
	entries := make([]Entry, len(messages))
	for i, m := range messages {
		entries[i] = Entry{Message: m, Sent: m.SenderID == selfID}
	}
	return entries
}

// unreadFrom returns ids of unread messages peerID sent to selfID.
func unreadFrom(messages []domain.Message, selfID, peerID int64) []int64 {
	var ids []int64
	for _, m := range messages {
		if m.SenderID == peerID && m.RecipientID == selfID && !m.Read && m.ID != 0 {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
