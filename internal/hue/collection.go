package hue

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SortOrder selects how the light collection is ordered.
type SortOrder int

const (
	SortByName SortOrder = iota
	SortByID
)

// ParseSortOrder maps a config value. Unknown values sort by name.
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(s, "id") {
		return SortByID
	}
	return SortByName
}

// collectionSpec is the per-type behavior a Collection needs.
type collectionSpec[E Identifiable] struct {
	// decode builds a detached snapshot from one collection member.
	decode func(raw json.RawMessage) (E, error)
	// merge folds a snapshot into the live entity and reports a difference.
	merge func(dst, src E) bool
	// uniqueKey is an optional secondary key, such as a light's UniqueId.
	uniqueKey func(E) string
	// less orders the collection; nil keeps bridge document order.
	less func(a, b E) bool
}

// Collection is an ordered, ID-indexed set of live entities. It is not
// safe for concurrent use; the session refresh lock guards it.
type Collection[E Identifiable] struct {
	spec     collectionSpec[E]
	items    []E
	byID     map[string]E
	byUnique map[string]E
}

func newCollection[E Identifiable](spec collectionSpec[E]) *Collection[E] {
	return &Collection[E]{
		spec:     spec,
		byID:     make(map[string]E),
		byUnique: make(map[string]E),
	}
}

// Len returns the number of entities.
func (c *Collection[E]) Len() int { return len(c.items) }

// Items returns a copy of the ordered entity list.
func (c *Collection[E]) Items() []E {
	out := make([]E, len(c.items))
	copy(out, c.items)
	return out
}

// At returns the entity at index.
func (c *Collection[E]) At(index int) (E, error) {
	var zero E
	if index < 0 || index >= len(c.items) {
		return zero, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return c.items[index], nil
}

// Get looks an entity up by bridge ID.
func (c *Collection[E]) Get(id string) (E, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// GetByUniqueKey looks an entity up by its secondary key.
func (c *Collection[E]) GetByUniqueKey(key string) (E, bool) {
	e, ok := c.byUnique[key]
	return e, ok
}

// Clear drops every entity.
func (c *Collection[E]) Clear() {
	c.items = nil
	c.byID = make(map[string]E)
	c.byUnique = make(map[string]E)
}

// Sync reconciles the collection with a full bridge document. Entities that
// still exist are merged in place; new IDs get fresh entities; missing IDs are
// dropped. changed lists new entities and entities whose fields or index
// moved, in collection order.
func (c *Collection[E]) Sync(body string) (changed, removed []E, err error) {
	members, err := decodeOrderedObject(body)
	if err != nil {
		return nil, nil, err
	}

	snapshots := make([]E, len(members))
	present := make(map[string]struct{}, len(members))
	for i, m := range members {
		snap, err := c.spec.decode(m.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode %s: %w", m.Key, err)
		}
		snapshots[i] = snap
		present[m.Key] = struct{}{}
	}

	// Decoding succeeded, mutate from here on.
	kept := c.items[:0:0]
	for _, e := range c.items {
		if _, ok := present[e.identity().ID]; ok {
			kept = append(kept, e)
			continue
		}
		removed = append(removed, e)
		delete(c.byID, e.identity().ID)
	}
	c.items = kept

	dirty := make(map[string]bool)
	for i, m := range members {
		if c.upsert(m.Key, snapshots[i]) {
			dirty[m.Key] = true
		}
	}

	c.reorder(dirty)
	c.rebuildUniqueIndex()

	for _, e := range c.items {
		if dirty[e.identity().ID] {
			changed = append(changed, e)
		}
	}
	return changed, removed, nil
}

// SyncSingle merges or inserts one entity fetched on its own, leaving the rest
// of the collection untouched apart from index reassignment.
func (c *Collection[E]) SyncSingle(id, body string) (E, bool, error) {
	var zero E
	snap, err := c.spec.decode(json.RawMessage(body))
	if err != nil {
		return zero, false, fmt.Errorf("failed to decode %s: %w", id, err)
	}

	dirty := make(map[string]bool)
	if c.upsert(id, snap) {
		dirty[id] = true
	}
	c.reorder(dirty)
	c.rebuildUniqueIndex()

	e := c.byID[id]
	return e, dirty[id], nil
}

// Remove drops one entity by ID.
func (c *Collection[E]) Remove(id string) (removed E, moved []E, ok bool) {
	removed, ok = c.byID[id]
	if !ok {
		return removed, nil, false
	}
	delete(c.byID, id)
	for i, item := range c.items {
		if item.identity().ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	moved = c.reorderMoved()
	c.rebuildUniqueIndex()
	return removed, moved, true
}

// Resort reapplies the ordering and returns every entity whose index moved.
func (c *Collection[E]) Resort() []E {
	return c.reorderMoved()
}

func (c *Collection[E]) reorderMoved() []E {
	dirty := make(map[string]bool)
	c.reorder(dirty)
	var moved []E
	for _, e := range c.items {
		if dirty[e.identity().ID] {
			moved = append(moved, e)
		}
	}
	return moved
}

func (c *Collection[E]) upsert(id string, snap E) bool {
	if existing, ok := c.byID[id]; ok {
		return c.spec.merge(existing, snap)
	}
	ident := snap.identity()
	ident.ID = id
	ident.Index = len(c.items)
	c.items = append(c.items, snap)
	c.byID[id] = snap
	return true
}

// reorder sorts when an ordering is configured and reassigns Index values.
// Entities whose index changed are marked in dirty when it is non-nil.
func (c *Collection[E]) reorder(dirty map[string]bool) {
	if c.spec.less != nil {
		sort.SliceStable(c.items, func(i, j int) bool {
			return c.spec.less(c.items[i], c.items[j])
		})
	}
	for i, e := range c.items {
		ident := e.identity()
		if ident.Index != i {
			ident.Index = i
			if dirty != nil {
				dirty[ident.ID] = true
			}
		}
	}
}

func (c *Collection[E]) rebuildUniqueIndex() {
	if c.spec.uniqueKey == nil {
		return
	}
	c.byUnique = make(map[string]E, len(c.items))
	for _, e := range c.items {
		if key := c.spec.uniqueKey(e); key != "" {
			c.byUnique[key] = e
		}
	}
}

func decodeEntity[T any](raw json.RawMessage, fresh func() *T) (*T, error) {
	e := fresh()
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, err
	}
	return e, nil
}

func newLightCollection(order SortOrder) *Collection[*LightBulb] {
	return newCollection(collectionSpec[*LightBulb]{
		decode: func(raw json.RawMessage) (*LightBulb, error) {
			return decodeEntity(raw, newLightBulb)
		},
		merge:     (*LightBulb).UpdateFrom,
		uniqueKey: func(l *LightBulb) string { return l.UniqueID },
		less:      lightLess(order),
	})
}

func newGroupCollection() *Collection[*Group] {
	return newCollection(collectionSpec[*Group]{
		decode: func(raw json.RawMessage) (*Group, error) {
			return decodeEntity(raw, func() *Group { return &Group{} })
		},
		merge: (*Group).UpdateFrom,
	})
}

func newSceneCollection() *Collection[*Scene] {
	return newCollection(collectionSpec[*Scene]{
		decode: func(raw json.RawMessage) (*Scene, error) {
			return decodeEntity(raw, func() *Scene { return &Scene{} })
		},
		merge: (*Scene).UpdateFrom,
	})
}

func lightLess(order SortOrder) func(a, b *LightBulb) bool {
	if order == SortByID {
		return func(a, b *LightBulb) bool { return idLess(a.ID, b.ID) }
	}
	return func(a, b *LightBulb) bool {
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return idLess(a.ID, b.ID)
	}
}

// idLess orders numeric bridge IDs numerically and anything else lexically.
func idLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
