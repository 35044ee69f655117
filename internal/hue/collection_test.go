package hue

import (
	"testing"
)

const collectionDoc = `{
	"3": {"uniqueid": "cc", "type": "Dimmable light", "name": "bedroom", "state": {"on": true, "bri": 10}},
	"1": {"uniqueid": "aa", "type": "Dimmable light", "name": "Kitchen", "state": {"on": false, "bri": 200}},
	"2": {"uniqueid": "bb", "type": "Dimmable light", "name": "Attic", "state": {"on": true, "bri": 50}}
}`

func lightIDs(lights []*LightBulb) []string {
	ids := make([]string, len(lights))
	for i, l := range lights {
		ids[i] = l.ID
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCollectionSync_IdempotentMerge(t *testing.T) {
	c := newLightCollection(SortByName)

	changed, removed, err := c.Sync(collectionDoc)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(changed) != 3 || len(removed) != 0 {
		t.Fatalf("first Sync() changed=%d removed=%d, want 3 and 0", len(changed), len(removed))
	}

	changed, removed, err = c.Sync(collectionDoc)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(changed) != 0 || len(removed) != 0 {
		t.Errorf("second Sync() changed=%v removed=%v, want none", lightIDs(changed), lightIDs(removed))
	}
}

func TestCollectionSync_ReportsFieldChanges(t *testing.T) {
	c := newLightCollection(SortByID)
	if _, _, err := c.Sync(collectionDoc); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	before, _ := c.Get("1")

	updated := `{
		"3": {"uniqueid": "cc", "type": "Dimmable light", "name": "bedroom", "state": {"on": true, "bri": 10}},
		"1": {"uniqueid": "aa", "type": "Dimmable light", "name": "Kitchen", "state": {"on": true, "bri": 200}},
		"2": {"uniqueid": "bb", "type": "Dimmable light", "name": "Attic", "state": {"on": true, "bri": 50}}
	}`
	changed, _, err := c.Sync(updated)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got := lightIDs(changed); !equalStrings(got, []string{"1"}) {
		t.Errorf("changed = %v, want [1]", got)
	}
	after, _ := c.Get("1")
	if after != before {
		t.Error("merge replaced the light instance")
	}
	if !after.State.On {
		t.Error("State.On = false, want true")
	}
}

func TestCollectionSync_DropAndReadd(t *testing.T) {
	c := newLightCollection(SortByID)
	if _, _, err := c.Sync(collectionDoc); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	dropped, _ := c.Get("2")

	without := `{
		"3": {"uniqueid": "cc", "type": "Dimmable light", "name": "bedroom", "state": {"on": true, "bri": 10}},
		"1": {"uniqueid": "aa", "type": "Dimmable light", "name": "Kitchen", "state": {"on": false, "bri": 200}}
	}`
	changed, removed, err := c.Sync(without)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got := lightIDs(removed); !equalStrings(got, []string{"2"}) {
		t.Errorf("removed = %v, want [2]", got)
	}
	if _, ok := c.Get("2"); ok {
		t.Error("Get(2) found a dropped light")
	}
	if _, ok := c.GetByUniqueKey("bb"); ok {
		t.Error("GetByUniqueKey(bb) found a dropped light")
	}
	// Light 3 moved from index 2 to 1
	if got := lightIDs(changed); !equalStrings(got, []string{"3"}) {
		t.Errorf("changed = %v, want [3]", got)
	}

	if _, _, err := c.Sync(collectionDoc); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	readded, ok := c.Get("2")
	if !ok {
		t.Fatal("Get(2) not found after re-adding")
	}
	if readded == dropped {
		t.Error("re-added light reused the dropped instance")
	}
}

func TestCollectionSync_SortByNamePreservesIdentity(t *testing.T) {
	c := newLightCollection(SortByName)
	if _, _, err := c.Sync(collectionDoc); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got := lightIDs(c.Items()); !equalStrings(got, []string{"2", "3", "1"}) {
		t.Fatalf("order = %v, want [2 3 1]", got)
	}
	kitchen, _ := c.Get("1")

	renamed := `{
		"3": {"uniqueid": "cc", "type": "Dimmable light", "name": "bedroom", "state": {"on": true, "bri": 10}},
		"1": {"uniqueid": "aa", "type": "Dimmable light", "name": "Kitchen", "state": {"on": false, "bri": 200}},
		"2": {"uniqueid": "bb", "type": "Dimmable light", "name": "Zoo", "state": {"on": true, "bri": 50}}
	}`
	if _, _, err := c.Sync(renamed); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got := lightIDs(c.Items()); !equalStrings(got, []string{"3", "1", "2"}) {
		t.Errorf("order = %v, want [3 1 2]", got)
	}
	for i, l := range c.Items() {
		if l.Index != i {
			t.Errorf("light %s Index = %d, want %d", l.ID, l.Index, i)
		}
	}
	if again, _ := c.Get("1"); again != kitchen {
		t.Error("resort replaced the light instance")
	}
}

func TestCollectionSync_UniqueIDAssignedOnce(t *testing.T) {
	c := newLightCollection(SortByID)
	if _, _, err := c.Sync(`{"1": {"uniqueid": "aa", "name": "A"}}`); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	changed, _, err := c.Sync(`{"1": {"uniqueid": "zz", "name": "A"}}`)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("changed = %v, want none", lightIDs(changed))
	}
	if l, _ := c.Get("1"); l.UniqueID != "aa" {
		t.Errorf("UniqueID = %q, want aa", l.UniqueID)
	}
}

func TestCollectionSync_NullIsEmpty(t *testing.T) {
	c := newGroupCollection()
	if _, _, err := c.Sync(`{"1": {"name": "Room"}}`); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	_, removed, err := c.Sync("null")
	if err != nil {
		t.Fatalf("Sync(null) error = %v", err)
	}
	if len(removed) != 1 || c.Len() != 0 {
		t.Errorf("Sync(null) removed=%d len=%d, want 1 and 0", len(removed), c.Len())
	}
}

func TestCollectionSync_DecodeErrorLeavesCollection(t *testing.T) {
	c := newLightCollection(SortByID)
	if _, _, err := c.Sync(collectionDoc); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, _, err := c.Sync(`{"1": {"name": 5}}`); err == nil {
		t.Fatal("Sync() error = nil, want decode error")
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestCollectionAt(t *testing.T) {
	c := newSceneCollection()
	if _, _, err := c.Sync(`{"b": {"name": "Two"}, "a": {"name": "One"}}`); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	first, err := c.At(0)
	if err != nil || first.ID != "b" {
		t.Errorf("At(0) = %v, %v, want scene b", first, err)
	}
	if _, err := c.At(2); err == nil {
		t.Error("At(2) error = nil, want ErrIndexOutOfRange")
	}
}

func TestIDLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2", "10", true},
		{"10", "2", false},
		{"abc", "abd", true},
		{"1", "1", false},
	}
	for _, tt := range tests {
		if got := idLess(tt.a, tt.b); got != tt.want {
			t.Errorf("idLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCollectionRemove(t *testing.T) {
	tests := []struct {
		id        string
		wantMoved []string
		wantOK    bool
	}{
		{id: "2", wantMoved: []string{"3", "1"}, wantOK: true},
		{id: "3", wantMoved: []string{"1"}, wantOK: true},
		{id: "1", wantMoved: nil, wantOK: true},
		{id: "9", wantMoved: nil, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			c := newLightCollection(SortByName)
			if _, _, err := c.Sync(collectionDoc); err != nil {
				t.Fatalf("Sync() error = %v", err)
			}

			removed, moved, ok := c.Remove(tt.id)
			if ok != tt.wantOK {
				t.Fatalf("Remove(%s) ok = %v, want %v", tt.id, ok, tt.wantOK)
			}
			if ok && removed.ID != tt.id {
				t.Errorf("Remove(%s) removed %s", tt.id, removed.ID)
			}
			if got := lightIDs(moved); !equalStrings(got, tt.wantMoved) {
				t.Errorf("Remove(%s) moved = %v, want %v", tt.id, got, tt.wantMoved)
			}
			if _, found := c.GetByUniqueKey("bb"); found == (tt.id == "2") {
				t.Errorf("GetByUniqueKey(bb) found = %v after removing %s", found, tt.id)
			}
			for i, l := range c.Items() {
				if l.Index != i {
					t.Errorf("%s Index = %d, want %d", l.ID, l.Index, i)
				}
			}
		})
	}
}
