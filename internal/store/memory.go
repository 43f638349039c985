package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-memory Store for local development and tests.
// It is selected explicitly by configuration, never auto-detected.
// Documents pass through the bson codec on the way in and out, so
// field names and type coercions match the Mongo backend.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
	}
}

// Collection returns the named collection, creating it on first use.
func (s *MemoryStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[name]
	if !ok {
		col = &memoryCollection{docs: make(map[string]bson.M)}
		s.collections[name] = col
	}
	return col
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }

type memoryCollection struct {
	mu   sync.RWMutex
	docs map[string]bson.M
}

func (c *memoryCollection) Get(ctx context.Context, id string, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}
	return decodeDoc(doc, out)
}

func (c *memoryCollection) Set(ctx context.Context, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m, err := toDocMap(doc)
	if err != nil {
		return err
	}
	m["_id"] = id

	c.mu.Lock()
	c.docs[id] = m
	c.mu.Unlock()

	return nil
}

func (c *memoryCollection) Update(ctx context.Context, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}
	updated, err := applyFields(doc, fields)
	if err != nil {
		return err
	}
	c.docs[id] = updated
	return nil
}

func (c *memoryCollection) UpdateMany(ctx context.Context, q Query, fields map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for id, doc := range c.docs {
		if matches(doc, q.Filters) {
			updated, err := applyFields(doc, fields)
			if err != nil {
				return n, err
			}
			c.docs[id] = updated
			n++
		}
	}
	return n, nil
}

func (c *memoryCollection) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	delete(c.docs, id)
	c.mu.Unlock()

	return nil
}

func (c *memoryCollection) DeleteMany(ctx context.Context, q Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for id, doc := range c.docs {
		if matches(doc, q.Filters) {
			delete(c.docs, id)
			n++
		}
	}
	return n, nil
}

func (c *memoryCollection) Find(ctx context.Context, q Query, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	matched := c.scanLocked(q)

	slicePtr := reflect.ValueOf(out)
	if slicePtr.Kind() != reflect.Ptr || slicePtr.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("find out argument must be a pointer to a slice, got %T", out)
	}

	sliceVal := slicePtr.Elem()
	sliceVal.SetLen(0)
	elemType := sliceVal.Type().Elem()

	for _, doc := range matched {
		elem := reflect.New(elemType)
		if err := decodeDoc(doc, elem.Interface()); err != nil {
			return err
		}
		sliceVal = reflect.Append(sliceVal, elem.Elem())
	}
	slicePtr.Elem().Set(sliceVal)

	return nil
}

func (c *memoryCollection) FindOne(ctx context.Context, q Query, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	q.Limit = 1
	matched := c.scanLocked(q)
	if len(matched) == 0 {
		return ErrNotFound
	}
	return decodeDoc(matched[0], out)
}

// scanLocked matches, orders, and windows documents. Callers hold at
// least a read lock and must finish decoding before releasing it,
// since the returned maps alias the collection's storage.
func (c *memoryCollection) scanLocked(q Query) []bson.M {
	var matched []bson.M
	for _, doc := range c.docs {
		if matches(doc, q.Filters) {
			matched = append(matched, doc)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			cmp := compareValues(matched[i][q.OrderBy], matched[j][q.OrderBy])
			if q.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if q.Offset > 0 {
		if q.Offset >= int64(len(matched)) {
			return nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && int64(len(matched)) > q.Limit {
		matched = matched[:q.Limit]
	}

	return matched
}

func matches(doc bson.M, filters []Filter) bool {
	for _, f := range filters {
		val, present := doc[f.Field]
		if !present {
			val = nil
		}

		want, err := normalizeValue(f.Value)
		if err != nil {
			return false
		}

		switch f.Op {
		case OpEq:
			if !valuesEqual(val, want) {
				return false
			}
		case OpLt:
			if val == nil || compareValues(val, want) >= 0 {
				return false
			}
		case OpLte:
			if val == nil || compareValues(val, want) > 0 {
				return false
			}
		case OpGt:
			if val == nil || compareValues(val, want) <= 0 {
				return false
			}
		case OpGte:
			if val == nil || compareValues(val, want) < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	if na, ok := toOrdered(a); ok {
		nb, ok := toOrdered(b)
		return ok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two normalized bson values. nil sorts first.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			switch {
			case sa < sb:
				return -1
			case sa > sb:
				return 1
			default:
				return 0
			}
		}
	}

	na, okA := toOrdered(a)
	nb, okB := toOrdered(b)
	if okA && okB {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}

	return 0
}

func toOrdered(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case primitive.DateTime:
		return float64(t), true
	case time.Time:
		return float64(primitive.NewDateTimeFromTime(t)), true
	default:
		return 0, false
	}
}

func toDocMap(doc any) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return m, nil
}

func decodeDoc(doc bson.M, out any) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := bson.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// applyFields builds an updated copy of doc instead of mutating it, so
// readers decoding the old map under a read lock never observe a
// partial write.
func applyFields(doc bson.M, fields map[string]any) (bson.M, error) {
	updated := make(bson.M, len(doc)+len(fields))
	for k, v := range doc {
		updated[k] = v
	}
	for k, v := range fields {
		normalized, err := normalizeValue(v)
		if err != nil {
			return nil, err
		}
		updated[k] = normalized
	}
	return updated, nil
}

// normalizeValue runs a single value through the bson codec so memory
// documents hold the same representations Mongo would return.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	wrapped, err := toDocMap(bson.M{"v": v})
	if err != nil {
		return nil, err
	}
	return wrapped["v"], nil
}
