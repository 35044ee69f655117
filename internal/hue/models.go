package hue

// Identity is embedded by every entity that lives in a keyed collection.
// ID is assigned by the bridge. Index is the current position in the
// collection and changes whenever the collection is resorted.
type Identity struct {
	ID    string `json:"-"`
	Index int    `json:"-"`
}

func (i *Identity) identity() *Identity { return i }

// Identifiable is implemented by pointers to entities embedding Identity.
type Identifiable interface {
	identity() *Identity
}

// GroupState represents the aggregated on state of a group.
type GroupState struct {
	AllOn bool `json:"all_on"`
	AnyOn bool `json:"any_on"`
}

// Group represents a bridge group.
type Group struct {
	Identity
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Lights []string   `json:"lights"`
	State  GroupState `json:"state"`
}

// SceneAppData is opaque data stored by the app that created a scene.
type SceneAppData struct {
	Version int    `json:"version"`
	Data    string `json:"data"`
}

// Scene represents a stored bridge scene.
type Scene struct {
	Identity
	Name        string       `json:"name"`
	Lights      []string     `json:"lights"`
	Owner       string       `json:"owner"`
	AppData     SceneAppData `json:"appdata"`
	Picture     string       `json:"picture"`
	Recycle     bool         `json:"recycle"`
	Locked      bool         `json:"locked"`
	Version     int          `json:"version"`
	LastUpdated string       `json:"lastupdated"`
}

var groupStateFields = newFieldTable(
	valueField[GroupState]("all_on", func(s *GroupState) *bool { return &s.AllOn }),
	valueField[GroupState]("any_on", func(s *GroupState) *bool { return &s.AnyOn }),
)

var groupFields = newFieldTable(
	valueField[Group]("name", func(g *Group) *string { return &g.Name }),
	valueField[Group]("type", func(g *Group) *string { return &g.Type }),
	listField[Group]("lights", func(g *Group) *[]string { return &g.Lights }),
	nestedField[Group]("state", func(g *Group) *GroupState { return &g.State }, groupStateFields),
)

var sceneAppDataFields = newFieldTable(
	valueField[SceneAppData]("version", func(a *SceneAppData) *int { return &a.Version }),
	valueField[SceneAppData]("data", func(a *SceneAppData) *string { return &a.Data }),
)

var sceneFields = newFieldTable(
	valueField[Scene]("name", func(s *Scene) *string { return &s.Name }),
	listField[Scene]("lights", func(s *Scene) *[]string { return &s.Lights }),
	valueField[Scene]("owner", func(s *Scene) *string { return &s.Owner }),
	nestedField[Scene]("appdata", func(s *Scene) *SceneAppData { return &s.AppData }, sceneAppDataFields),
	valueField[Scene]("picture", func(s *Scene) *string { return &s.Picture }),
	valueField[Scene]("recycle", func(s *Scene) *bool { return &s.Recycle }),
	valueField[Scene]("locked", func(s *Scene) *bool { return &s.Locked }),
	valueField[Scene]("version", func(s *Scene) *int { return &s.Version }),
	valueField[Scene]("lastupdated", func(s *Scene) *string { return &s.LastUpdated }),
)

// UpdateFrom merges a freshly fetched snapshot into g.
func (g *Group) UpdateFrom(src *Group) bool {
	return groupFields.merge(g, src)
}

// UpdateFrom merges a freshly fetched snapshot into s.
func (s *Scene) UpdateFrom(src *Scene) bool {
	return sceneFields.merge(s, src)
}
