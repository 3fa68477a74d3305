package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and local development.
// Documents round-trip through JSON on the way in and out, which mirrors
// the wire shapes of the real backend: numbers come back as float64 and
// arrays as []any.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
}

// NewMemory returns an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]map[string]any)}
}

func (m *Memory) collection(name string) map[string]map[string]any {
	col, ok := m.collections[name]
	if !ok {
		col = make(map[string]map[string]any)
		m.collections[name] = col
	}
	return col
}

func (m *Memory) Get(_ context.Context, collection, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collection(collection)[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return deepCopy(doc)
}

func (m *Memory) Add(_ context.Context, collection string, doc map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied, err := deepCopy(doc)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	m.collection(collection)[id] = copied
	return id, nil
}

func (m *Memory) Merge(_ context.Context, collection, id string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.collection(collection)
	if _, ok := col[id]; !ok {
		col[id] = make(map[string]any)
	}
	for k, v := range doc {
		if err := applyValue(col[id], []string{k}, v); err != nil {
			return fmt.Errorf("merge %s/%s: %w", collection, id, err)
		}
	}
	return nil
}

func (m *Memory) Update(_ context.Context, collection, id string, updates []Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(collection, id, updates)
}

func (m *Memory) updateLocked(collection, id string, updates []Update) error {
	doc, ok := m.collection(collection)[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	for _, u := range updates {
		if err := applyValue(doc, u.Path, u.Value); err != nil {
			return fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
	}
	return nil
}

func (m *Memory) BatchUpdate(_ context.Context, collection string, docs map[string][]Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The backend batch is atomic, so check existence for every document
	// before mutating any of them.
	for id := range docs {
		if _, ok := m.collection(collection)[id]; !ok {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
	}
	for id, updates := range docs {
		if err := m.updateLocked(collection, id, updates); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Stream(_ context.Context, collection string, fn func(id string, doc map[string]any) error) error {
	m.mu.Lock()
	col := m.collection(collection)
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		doc, err := deepCopy(col[id])
		if err != nil {
			m.mu.Unlock()
			return err
		}
		docs = append(docs, doc)
	}
	m.mu.Unlock()

	for i, id := range ids {
		if err := fn(id, docs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func applyValue(doc map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("empty field path")
	}

	parent := doc
	for _, seg := range path[:len(path)-1] {
		next, ok := parent[seg]
		if !ok {
			child := make(map[string]any)
			parent[seg] = child
			parent = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q is not a map", seg)
		}
		parent = child
	}

	last := path[len(path)-1]
	switch v := value.(type) {
	case deleteMarker:
		delete(parent, last)
	case incrementMarker:
		current, _ := parent[last].(float64)
		parent[last] = current + v.delta
	case arrayUnionMarker:
		arr, _ := parent[last].([]any)
		for _, elem := range v.elems {
			copied, err := deepCopyValue(elem)
			if err != nil {
				return err
			}
			if !containsDeep(arr, copied) {
				arr = append(arr, copied)
			}
		}
		parent[last] = arr
	default:
		copied, err := deepCopyValue(v)
		if err != nil {
			return err
		}
		parent[last] = copied
	}
	return nil
}

func containsDeep(arr []any, elem any) bool {
	for _, existing := range arr {
		if reflect.DeepEqual(existing, elem) {
			return true
		}
	}
	return false
}

func deepCopy(doc map[string]any) (map[string]any, error) {
	copied, err := deepCopyValue(doc)
	if err != nil {
		return nil, err
	}
	out, ok := copied.(map[string]any)
	if !ok {
		out = make(map[string]any)
	}
	return out, nil
}

func deepCopyValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("copy document value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("copy document value: %w", err)
	}
	return out, nil
}
