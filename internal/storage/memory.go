package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/choco2105/magic-reading/internal/interfaces"
)

// MemoryStore keeps documents in process memory. Used for tests and the
// "memory" driver; nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]memoryDoc
	seq         int64
	now         func() time.Time
}

type memoryDoc struct {
	seq    int64
	doc    interfaces.Document
	fields map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]memoryDoc), now: time.Now}
}

func (s *MemoryStore) Save(ctx context.Context, collection string, record any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validField(collection) {
		return "", &ErrInvalidField{Field: collection}
	}
	body, err := encodeRecord(record)
	if err != nil {
		return "", err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := uuid.NewString()
	s.collections[collection] = append(s.collections[collection], memoryDoc{
		seq:    s.seq,
		doc:    interfaces.Document{ID: id, Body: body, CreatedAt: s.now().UTC()},
		fields: fields,
	})
	return id, nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filter interfaces.Filter, order interfaces.OrderBy, limit int) ([]interfaces.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkQuery(collection, filter, order); err != nil {
		return nil, err
	}
	want := make([]any, len(filter))
	for i, c := range filter {
		v, err := scalar(c.Value)
		if err != nil {
			return nil, err
		}
		want[i] = v
	}

	s.mu.RLock()
	var matched []memoryDoc
	for _, d := range s.collections[collection] {
		if matches(d, filter, want) {
			matched = append(matched, d)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		less := compareDocs(matched[i], matched[j], order.Field)
		if order.Desc {
			return less > 0
		}
		return less < 0
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]interfaces.Document, len(matched))
	for i, d := range matched {
		out[i] = d.doc
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func matches(d memoryDoc, filter interfaces.Filter, want []any) bool {
	for i, c := range filter {
		var got any
		switch c.Field {
		case interfaces.FieldID:
			got = d.doc.ID
		default:
			got = jsonScalar(d.fields[c.Field])
		}
		if got != want[i] {
			return false
		}
	}
	return true
}

// compareDocs orders by field, falling back to insertion order
func compareDocs(a, b memoryDoc, field string) int {
	if field != "" && field != interfaces.FieldCreatedAt {
		if c := compareScalars(jsonScalar(a.fields[field]), jsonScalar(b.fields[field])); c != 0 {
			return c
		}
	} else if !a.doc.CreatedAt.Equal(b.doc.CreatedAt) {
		if a.doc.CreatedAt.Before(b.doc.CreatedAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

func compareScalars(a, b any) int {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
		}
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
		}
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
		}
	}
	return 0
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }
