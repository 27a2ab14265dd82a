package model

// Directory entity kinds and relation types.
const (
	KindUser  = "User"
	KindGroup = "Group"

	RelationMemberOf = "memberOf"
)

// Relation is a typed edge from one directory entity to another.
type Relation struct {
	Type      string `json:"type"`
	TargetRef string `json:"targetRef"`
}

// EntityMetadata identifies an entity inside its namespace.
type EntityMetadata struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// Entity is a directory record (user or group) with its relations.
type Entity struct {
	Kind      string         `json:"kind"`
	Metadata  EntityMetadata `json:"metadata"`
	Relations []Relation     `json:"relations,omitempty"`
}

// Ref returns the canonical entity ref of the entity.
func (e Entity) Ref() string {
	return EntityRef{
		Kind:      e.Kind,
		Namespace: e.Metadata.Namespace,
		Name:      e.Metadata.Name,
	}.String()
}

// HasRelation reports whether the entity has an edge of relType pointing at
// targetRef. Target refs are compared in normalized form.
func (e Entity) HasRelation(relType, targetRef string) bool {
	target := NormalizeEntityRef(targetRef)
	for _, rel := range e.Relations {
		if rel.Type == relType && NormalizeEntityRef(rel.TargetRef) == target {
			return true
		}
	}
	return false
}

// EntityFilter selects directory entities. An empty Kind matches all kinds.
type EntityFilter struct {
	Kind string
}
