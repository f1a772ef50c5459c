package chat

import "sort"

// Buffer is the bounded recent-message buffer: ascending by timestamp,
// unique by (timestamp, sender, content), at most limit entries.
// It is not safe for concurrent use; one pipeline goroutine owns it.
type Buffer struct {
	limit int
	msgs  []Message
}

// NewBuffer returns an empty buffer holding at most limit messages.
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{limit: limit}
}

// Merge appends msgs to the current contents, then dedupes, sorts and
// truncates to the most recent entries.
func (b *Buffer) Merge(msgs []Message) {
	combined := make([]Message, 0, len(b.msgs)+len(msgs))
	combined = append(combined, b.msgs...)
	combined = append(combined, msgs...)
	b.msgs = b.normalize(combined)
}

// Replace discards the current contents in favour of msgs.
func (b *Buffer) Replace(msgs []Message) {
	fresh := make([]Message, len(msgs))
	copy(fresh, msgs)
	b.msgs = b.normalize(fresh)
}

// Messages returns a copy of the buffered messages.
func (b *Buffer) Messages() []Message {
	out := make([]Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	return len(b.msgs)
}

// Limit returns the buffer capacity.
func (b *Buffer) Limit() int {
	return b.limit
}

func (b *Buffer) normalize(msgs []Message) []Message {
	seen := make(map[messageKey]struct{}, len(msgs))
	unique := msgs[:0]
	for _, m := range msgs {
		k := m.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, m)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Timestamp < unique[j].Timestamp
	})

	if len(unique) > b.limit {
		unique = unique[len(unique)-b.limit:]
	}
	return unique
}
