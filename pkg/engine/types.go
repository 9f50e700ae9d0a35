package engine

import (
	"encoding/json"
	"fmt"
	"sort"
)

// EntityType identifies a kind of configuration entity.
// Entity types double as the top-level keys of an export document.
type EntityType string

const (
	// TypeScript is a script (base64 body on the remote side).
	TypeScript EntityType = "script"

	// TypeNode is an authentication tree node. Nodes are scoped by node type.
	TypeNode EntityType = "node"

	// TypeTree is an authentication tree (journey).
	TypeTree EntityType = "tree"

	// TypeOAuth2Client is an OAuth2 client agent.
	TypeOAuth2Client EntityType = "oauth2Client"

	// TypeSecretStore is a secret store. Secret stores are scoped by store type.
	TypeSecretStore EntityType = "secretStore"

	// TypePolicy is an authorization policy.
	TypePolicy EntityType = "policy"

	// TypeResourceType is an authorization resource type.
	TypeResourceType EntityType = "resourceType"

	// TypeVariable is an environment variable (cloud deployments only).
	TypeVariable EntityType = "variable"
)

// entityTypeOrder is the canonical document order. Types that others depend
// on come first so that a plain walk of a document is already close to
// dependency order.
var entityTypeOrder = []EntityType{
	TypeScript,
	TypeResourceType,
	TypeVariable,
	TypeSecretStore,
	TypeNode,
	TypeTree,
	TypeOAuth2Client,
	TypePolicy,
}

// EntityTypes returns every entity type in canonical document order.
func EntityTypes() []EntityType {
	out := make([]EntityType, len(entityTypeOrder))
	copy(out, entityTypeOrder)
	return out
}

// Validate checks if the entity type is known.
func (t EntityType) Validate() error {
	if t.rank() < 0 {
		return NewValidationError(fmt.Sprintf("invalid entity type: %q", string(t)), nil)
	}
	return nil
}

// Scoped reports whether entities of this type live under a subtype
// (node type for nodes, store type for secret stores).
func (t EntityType) Scoped() bool {
	return t == TypeNode || t == TypeSecretStore
}

func (t EntityType) rank() int {
	for i, et := range entityTypeOrder {
		if et == t {
			return i
		}
	}
	return -1
}

// DeploymentType identifies the flavour of the target system.
type DeploymentType string

const (
	// DeploymentClassic is a self-managed installation.
	DeploymentClassic DeploymentType = "classic"

	// DeploymentCloud is the managed cloud offering.
	DeploymentCloud DeploymentType = "cloud"

	// DeploymentForgeOps is a container-based self-managed installation.
	DeploymentForgeOps DeploymentType = "forgeops"
)

// Validate checks if the deployment type is known.
func (d DeploymentType) Validate() error {
	switch d {
	case DeploymentClassic, DeploymentCloud, DeploymentForgeOps:
		return nil
	default:
		return NewValidationError(fmt.Sprintf("invalid deployment type: %q", string(d)), nil)
	}
}

// Connection is the read-only context of one target system.
type Connection struct {
	// Host is the base URL of the target, e.g. https://am.example.com/am.
	Host string `json:"host"`

	// Realm is the default realm for operations.
	Realm string `json:"realm"`

	// DeploymentType selects which entity types are available.
	DeploymentType DeploymentType `json:"deploymentType"`

	// ProductVersion is the version reported by the target.
	ProductVersion string `json:"productVersion,omitempty"`

	// Principal is the identity the operations run as.
	Principal string `json:"principal,omitempty"`

	// Token is the bearer token. Never serialized.
	Token string `json:"-"`
}

// Supports reports whether the deployment exposes the entity type.
func (c Connection) Supports(t EntityType) bool {
	if t == TypeVariable {
		return c.DeploymentType == DeploymentCloud
	}
	return t.rank() >= 0
}

// Scope locates a collection of entities on the target.
type Scope struct {
	// Realm is the realm; empty means the connection's realm.
	Realm string

	// Subtype is the node type for nodes and the store type for secret stores.
	Subtype string
}

// Key identifies an entity across types.
type Key struct {
	Type EntityType
	ID   string
}

// String returns "type/id".
func (k Key) String() string {
	return string(k.Type) + "/" + k.ID
}

// Skeleton is the normalized representation of one remote entity.
type Skeleton struct {
	// ID is the entity id, unique within its type.
	ID string

	// Type is the entity type.
	Type EntityType

	// Revision is the target's opaque revision; empty when unknown.
	Revision string

	// Payload is the type-specific body.
	Payload Payload
}

// NewSkeleton builds a skeleton of the given type from a raw object.
// The id and revision are taken from _id and _rev.
func NewSkeleton(t EntityType, obj Object) (Skeleton, error) {
	if err := t.Validate(); err != nil {
		return Skeleton{}, err
	}
	if obj == nil {
		obj = Object{}
	}
	p := newPayload(t, obj)
	return Skeleton{
		ID:       obj.String("_id"),
		Type:     t,
		Revision: obj.String("_rev"),
		Payload:  p,
	}, nil
}

// Key returns the entity key.
func (s Skeleton) Key() Key {
	return Key{Type: s.Type, ID: s.ID}
}

// Subtype returns the node type or store type of scoped entities.
func (s Skeleton) Subtype() string {
	if s.Payload == nil || !s.Type.Scoped() {
		return ""
	}
	return s.Payload.Fields().Map("_type").String("_id")
}

// Object returns the payload fields with _id set to the skeleton id.
func (s Skeleton) Object() Object {
	var obj Object
	if s.Payload != nil {
		obj = s.Payload.Fields().Clone()
	}
	if obj == nil {
		obj = Object{}
	}
	if s.ID != "" {
		obj["_id"] = s.ID
	}
	return obj
}

// Clone returns a deep copy of the skeleton.
func (s Skeleton) Clone() Skeleton {
	out := s
	if s.Payload != nil {
		out.Payload = newPayload(s.Type, s.Payload.Fields().Clone())
	}
	return out
}

// WithID returns a copy of the skeleton carrying a new id.
func (s Skeleton) WithID(id string) Skeleton {
	out := s.Clone()
	out.ID = id
	if out.Payload != nil {
		out.Payload.Fields()["_id"] = id
	}
	return out
}

// DisplayName returns the human-facing name of the entity, falling back to the id.
func (s Skeleton) DisplayName() string {
	if n, ok := s.Payload.(Named); ok {
		if name := n.DisplayName(); name != "" {
			return name
		}
	}
	return s.ID
}

// DependencyRef is an outgoing reference from one entity to another.
type DependencyRef struct {
	// Type is the referenced entity type.
	Type EntityType

	// ID is the referenced entity id.
	ID string

	// Subtype scopes the referenced entity (node type).
	Subtype string

	// Field names where the reference was found.
	Field string

	// Owned marks structural parts of the referencing entity (tree nodes,
	// container inner nodes). Owned references always travel with their owner.
	Owned bool
}

// Key returns the key of the referenced entity.
func (r DependencyRef) Key() Key {
	return Key{Type: r.Type, ID: r.ID}
}

// Subresource is a child record applied after its parent entity.
type Subresource struct {
	// Kind names the child collection, e.g. "mappings".
	Kind string

	// ID identifies the child within the collection.
	ID string

	// Object is the raw child body.
	Object Object
}

// ExportMetaData describes where and how a document was produced.
type ExportMetaData struct {
	Origin            string `json:"origin"`
	OriginAmVersion   string `json:"originAmVersion"`
	ExportedBy        string `json:"exportedBy"`
	ExportDate        string `json:"exportDate"`
	ExportTool        string `json:"exportTool"`
	ExportToolVersion string `json:"exportToolVersion"`
}

// ExportDocument is the portable serialization of a set of entities.
type ExportDocument struct {
	// Meta is the export metadata; nil when the document carries none.
	Meta *ExportMetaData

	// Entities maps entity type to id to object.
	Entities map[EntityType]map[string]Object
}

// NewExportDocument creates an empty document.
func NewExportDocument(meta *ExportMetaData) *ExportDocument {
	return &ExportDocument{
		Meta:     meta,
		Entities: make(map[EntityType]map[string]Object),
	}
}

// Ensure makes sure the document has a (possibly empty) map for the type.
func (d *ExportDocument) Ensure(t EntityType) map[string]Object {
	if d.Entities == nil {
		d.Entities = make(map[EntityType]map[string]Object)
	}
	m, ok := d.Entities[t]
	if !ok {
		m = make(map[string]Object)
		d.Entities[t] = m
	}
	return m
}

// Add stores the skeleton's object under its type and id. The revision is dropped.
func (d *ExportDocument) Add(s Skeleton) {
	obj := s.Object()
	delete(obj, "_rev")
	d.Ensure(s.Type)[s.ID] = obj
}

// Has reports whether the document holds the entity.
func (d *ExportDocument) Has(k Key) bool {
	_, ok := d.Entities[k.Type][k.ID]
	return ok
}

// Len returns the number of entities in the document.
func (d *ExportDocument) Len() int {
	n := 0
	for _, m := range d.Entities {
		n += len(m)
	}
	return n
}

// Skeletons returns every entity in document order: types in canonical
// order, ids sorted within a type.
func (d *ExportDocument) Skeletons() ([]Skeleton, error) {
	out := make([]Skeleton, 0, d.Len())
	for _, t := range entityTypeOrder {
		m := d.Entities[t]
		ids := make([]string, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			obj := m[id].Clone()
			if obj == nil {
				return nil, NewValidationError(fmt.Sprintf("%s %s has no body", t, id), nil)
			}
			if oid := obj.String("_id"); oid != "" && oid != id {
				return nil, NewValidationError(
					fmt.Sprintf("%s %s: key does not match _id %q", t, id, oid), nil)
			}
			obj["_id"] = id
			s, err := NewSkeleton(t, obj)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// MarshalJSON writes {"meta": ..., "<type>": {id: object}}.
func (d *ExportDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Entities)+1)
	if d.Meta != nil {
		out["meta"] = d.Meta
	}
	for t, m := range d.Entities {
		out[string(t)] = m
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a document. Unknown top-level keys are rejected.
func (d *ExportDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return NewValidationError("malformed export document", err)
	}
	d.Meta = nil
	d.Entities = make(map[EntityType]map[string]Object)
	for key, body := range raw {
		if key == "meta" {
			var meta ExportMetaData
			if err := json.Unmarshal(body, &meta); err != nil {
				return NewValidationError("malformed export metadata", err)
			}
			d.Meta = &meta
			continue
		}
		t := EntityType(key)
		if err := t.Validate(); err != nil {
			return NewValidationError(fmt.Sprintf("unknown document key %q", key), nil)
		}
		var entities map[string]json.RawMessage
		if err := json.Unmarshal(body, &entities); err != nil {
			return NewValidationError(fmt.Sprintf("malformed %s section", key), err)
		}
		m := d.Ensure(t)
		for id, rawObj := range entities {
			obj, err := DecodeObject(rawObj)
			if err != nil {
				return NewValidationError(fmt.Sprintf("malformed %s %s", key, id), err)
			}
			m[id] = obj
		}
	}
	return nil
}

// ParseExportDocument decodes a JSON export document.
func ParseExportDocument(data []byte) (*ExportDocument, error) {
	doc := &ExportDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
