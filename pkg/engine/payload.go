package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Object is the raw field map of a remote entity. Numbers decoded through
// DecodeObject are json.Number so they round-trip without loss.
type Object map[string]any

// DecodeObject decodes a JSON object preserving number literals.
func DecodeObject(data []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj Object
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// String returns the string field or "".
func (o Object) String(key string) string {
	if o == nil {
		return ""
	}
	s, _ := o[key].(string)
	return s
}

// Bool returns the boolean field or false.
func (o Object) Bool(key string) bool {
	if o == nil {
		return false
	}
	b, _ := o[key].(bool)
	return b
}

// Map returns the nested object field or nil.
func (o Object) Map(key string) Object {
	if o == nil {
		return nil
	}
	switch v := o[key].(type) {
	case Object:
		return v
	case map[string]any:
		return Object(v)
	default:
		return nil
	}
}

// Slice returns the array field or nil.
func (o Object) Slice(key string) []any {
	if o == nil {
		return nil
	}
	s, _ := o[key].([]any)
	return s
}

// Clone returns a deep copy.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return cloneValue(map[string]any(o)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Object:
		return Object(cloneValue(map[string]any(t)).(map[string]any))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func asObject(v any) Object {
	switch t := v.(type) {
	case Object:
		return t
	case map[string]any:
		return Object(t)
	default:
		return nil
	}
}

// Payload is the type-specific body of a skeleton. The set of
// implementations is closed: one per EntityType.
type Payload interface {
	// EntityType returns the variant's entity type.
	EntityType() EntityType

	// Fields returns the underlying field map. Mutations are visible to the payload.
	Fields() Object
}

// Named is implemented by payloads with a display name distinct from their id.
type Named interface {
	DisplayName() string
	SetDisplayName(name string)
}

func newPayload(t EntityType, obj Object) Payload {
	switch t {
	case TypeScript:
		return &Script{Object: obj}
	case TypeNode:
		return &Node{Object: obj}
	case TypeTree:
		return &Tree{Object: obj}
	case TypeOAuth2Client:
		return &OAuth2Client{Object: obj}
	case TypeSecretStore:
		return &SecretStore{Object: obj}
	case TypePolicy:
		return &Policy{Object: obj}
	case TypeResourceType:
		return &ResourceType{Object: obj}
	case TypeVariable:
		return &Variable{Object: obj}
	default:
		panic(fmt.Sprintf("engine: no payload variant for entity type %q", t))
	}
}

// Script is a script entity. The remote body lives base64 encoded in "script".
type Script struct{ Object Object }

func (p *Script) EntityType() EntityType { return TypeScript }
func (p *Script) Fields() Object         { return p.Object }

// DisplayName returns the script name.
func (p *Script) DisplayName() string { return p.Object.String("name") }

// SetDisplayName sets the script name.
func (p *Script) SetDisplayName(name string) { p.Object["name"] = name }

// IsDefault reports whether the script ships with the product.
func (p *Script) IsDefault() bool { return p.Object.Bool("default") }

// ContainerNodeTypes lists node types whose instances hold inner nodes.
var ContainerNodeTypes = map[string]bool{
	"PageNode": true,
}

// InnerNodeRef references a node held by a container node.
type InnerNodeRef struct {
	ID          string
	NodeType    string
	DisplayName string
}

// Node is an authentication tree node.
type Node struct{ Object Object }

func (p *Node) EntityType() EntityType { return TypeNode }
func (p *Node) Fields() Object         { return p.Object }

// NodeType returns the node type from _type._id.
func (p *Node) NodeType() string { return p.Object.Map("_type").String("_id") }

// IsContainer reports whether the node holds inner nodes.
func (p *Node) IsContainer() bool {
	if p.Object.Map("_type").Bool("collection") {
		return true
	}
	return ContainerNodeTypes[p.NodeType()]
}

// InnerNodes returns the references held by a container node.
func (p *Node) InnerNodes() []InnerNodeRef {
	var out []InnerNodeRef
	for _, v := range p.Object.Slice("nodes") {
		inner := asObject(v)
		if id := inner.String("_id"); id != "" {
			out = append(out, InnerNodeRef{
				ID:          id,
				NodeType:    inner.String("nodeType"),
				DisplayName: inner.String("displayName"),
			})
		}
	}
	return out
}

// ScriptID returns the script referenced by a scripted node.
func (p *Node) ScriptID() string { return p.Object.String("script") }

// TreeEdge describes a node as seen from a tree.
type TreeEdge struct {
	NodeID      string
	NodeType    string
	DisplayName string
}

// Tree is an authentication tree (journey).
type Tree struct{ Object Object }

func (p *Tree) EntityType() EntityType { return TypeTree }
func (p *Tree) Fields() Object         { return p.Object }

// Edges returns the tree's nodes sorted by node id.
func (p *Tree) Edges() []TreeEdge {
	nodes := p.Object.Map("nodes")
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]TreeEdge, 0, len(ids))
	for _, id := range ids {
		edge := asObject(nodes[id])
		out = append(out, TreeEdge{
			NodeID:      id,
			NodeType:    edge.String("nodeType"),
			DisplayName: edge.String("displayName"),
		})
	}
	return out
}

// EmptyScriptRef is the sentinel value meaning "no script".
const EmptyScriptRef = "[Empty]"

// OAuth2ClientScriptFields are the override fields that may reference scripts.
var OAuth2ClientScriptFields = []string{
	"oidcClaimsScript",
	"accessTokenModificationScript",
}

// OAuth2Client is an OAuth2 client agent.
type OAuth2Client struct{ Object Object }

func (p *OAuth2Client) EntityType() EntityType { return TypeOAuth2Client }
func (p *OAuth2Client) Fields() Object         { return p.Object }

// ScriptRefs returns field name to script id for every set override script.
func (p *OAuth2Client) ScriptRefs() map[string]string {
	override := p.Object.Map("overrideOAuth2ClientConfig")
	out := make(map[string]string)
	for _, field := range OAuth2ClientScriptFields {
		if id := override.String(field); id != "" && id != EmptyScriptRef {
			out[field] = id
		}
	}
	return out
}

// SecretStore is a secret store. Its mappings are sub-resources.
type SecretStore struct{ Object Object }

func (p *SecretStore) EntityType() EntityType { return TypeSecretStore }
func (p *SecretStore) Fields() Object         { return p.Object }

// StoreType returns the store type from _type._id.
func (p *SecretStore) StoreType() string { return p.Object.Map("_type").String("_id") }

// Mappings returns the inlined mappings in array order.
func (p *SecretStore) Mappings() []Subresource {
	var out []Subresource
	for _, v := range p.Object.Slice("mappings") {
		m := asObject(v)
		if m == nil {
			continue
		}
		id := m.String("_id")
		if id == "" {
			id = m.String("secretId")
		}
		out = append(out, Subresource{Kind: "mappings", ID: id, Object: m})
	}
	return out
}

// SetMappings inlines mappings into the store body.
func (p *SecretStore) SetMappings(subs []Subresource) {
	if len(subs) == 0 {
		delete(p.Object, "mappings")
		return
	}
	arr := make([]any, 0, len(subs))
	for _, s := range subs {
		arr = append(arr, map[string]any(s.Object.Clone()))
	}
	p.Object["mappings"] = arr
}

// Policy is an authorization policy.
type Policy struct{ Object Object }

func (p *Policy) EntityType() EntityType { return TypePolicy }
func (p *Policy) Fields() Object         { return p.Object }

// ResourceTypeIDs returns the referenced resource type uuids.
func (p *Policy) ResourceTypeIDs() []string {
	var out []string
	for _, v := range p.Object.Slice("resourceTypeUuids") {
		if id, ok := v.(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ScriptIDs returns the scripts referenced by Script conditions, depth first.
func (p *Policy) ScriptIDs() []string {
	var out []string
	walkConditions(p.Object.Map("condition"), func(c Object) {
		if c.String("type") == "Script" {
			if id := c.String("scriptId"); id != "" {
				out = append(out, id)
			}
		}
	})
	return out
}

func walkConditions(c Object, fn func(Object)) {
	if c == nil {
		return
	}
	fn(c)
	walkConditions(c.Map("condition"), fn)
	for _, v := range c.Slice("conditions") {
		walkConditions(asObject(v), fn)
	}
}

// ResourceType is an authorization resource type.
type ResourceType struct{ Object Object }

func (p *ResourceType) EntityType() EntityType { return TypeResourceType }
func (p *ResourceType) Fields() Object         { return p.Object }

// DisplayName returns the resource type name.
func (p *ResourceType) DisplayName() string { return p.Object.String("name") }

// SetDisplayName sets the resource type name.
func (p *ResourceType) SetDisplayName(name string) { p.Object["name"] = name }

// Variable is an environment variable.
type Variable struct{ Object Object }

func (p *Variable) EntityType() EntityType { return TypeVariable }
func (p *Variable) Fields() Object         { return p.Object }
