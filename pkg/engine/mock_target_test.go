package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strconv"
	"sync"
)

// mockTarget is an in-memory Target. Entities are stored in their remote form.
type mockTarget struct {
	mu sync.Mutex

	entities  map[EntityType]map[string]Skeleton
	subs      map[string][]Subresource
	nodeTypes []string

	// failure injection
	nodeTypesErr error
	listErr      map[string]error // keyed by "type" or "type/subtype"
	getErr       map[string]error // keyed by "type/id"
	createErr    map[string]error // keyed by "type/id", returned once
	deleteErr    map[string]error // keyed by node id
	putSubErr    map[string]error // keyed by sub-resource id

	calls []string
}

func newMockTarget() *mockTarget {
	return &mockTarget{
		entities:  make(map[EntityType]map[string]Skeleton),
		subs:      make(map[string][]Subresource),
		listErr:   make(map[string]error),
		getErr:    make(map[string]error),
		createErr: make(map[string]error),
		deleteErr: make(map[string]error),
		putSubErr: make(map[string]error),
	}
}

func (m *mockTarget) put(t EntityType, obj Object) Skeleton {
	s, err := NewSkeleton(t, obj)
	if err != nil {
		panic(err)
	}
	if s.Revision == "" {
		s.Revision = "1"
	}
	if m.entities[t] == nil {
		m.entities[t] = make(map[string]Skeleton)
	}
	m.entities[t][s.ID] = s
	return s
}

func (m *mockTarget) stored(t EntityType, id string) (Skeleton, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entities[t][id]
	return s, ok
}

func (m *mockTarget) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func inScope(s Skeleton, scope Scope) bool {
	return !s.Type.Scoped() || scope.Subtype == "" || s.Subtype() == scope.Subtype
}

func (m *mockTarget) List(ctx context.Context, t EntityType, scope Scope) iter.Seq2[Skeleton, error] {
	return func(yield func(Skeleton, error) bool) {
		m.mu.Lock()
		err := m.listErr[string(t)]
		if scope.Subtype != "" && err == nil {
			err = m.listErr[string(t)+"/"+scope.Subtype]
		}
		var items []Skeleton
		for _, s := range m.entities[t] {
			if inScope(s, scope) {
				items = append(items, s.Clone())
			}
		}
		m.mu.Unlock()

		if err != nil {
			yield(Skeleton{}, err)
			return
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		for _, s := range items {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func (m *mockTarget) Get(ctx context.Context, t EntityType, scope Scope, id string) (Skeleton, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getErr[string(t)+"/"+id]; err != nil {
		return Skeleton{}, err
	}
	s, ok := m.entities[t][id]
	if !ok || !inScope(s, scope) {
		return Skeleton{}, NewNotFoundError(t, id, &NetworkError{URL: "mock://" + string(t) + "/" + id, Status: 404})
	}
	return s.Clone(), nil
}

func (m *mockTarget) Find(ctx context.Context, t EntityType, scope Scope, id string) (*Skeleton, error) {
	s, err := m.Get(ctx, t, scope, id)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *mockTarget) NodeTypes(ctx context.Context, scope Scope) ([]string, error) {
	if m.nodeTypesErr != nil {
		return nil, m.nodeTypesErr
	}
	return append([]string{}, m.nodeTypes...), nil
}

func (m *mockTarget) ListSubresources(ctx context.Context, parent Skeleton, scope Scope) ([]Subresource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subresource{}, m.subs[parent.Key().String()]...), nil
}

func (m *mockTarget) Create(ctx context.Context, s Skeleton, scope Scope) (Skeleton, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.Key().String()
	m.record("create %s", key)

	if err, ok := m.createErr[key]; ok {
		delete(m.createErr, key)
		return Skeleton{}, err
	}
	if _, exists := m.entities[s.Type][s.ID]; exists {
		return Skeleton{}, NewIDConflictError(s.Type, s.ID, &NetworkError{URL: "mock://" + key, Status: 412})
	}
	if named, ok := s.Payload.(Named); ok {
		for _, other := range m.entities[s.Type] {
			if other.DisplayName() == named.DisplayName() {
				return Skeleton{}, &NetworkError{URL: "mock://" + key, Status: 409, Message: "name already in use"}
			}
		}
	}

	stored := s.Clone()
	stored.Revision = "1"
	if m.entities[s.Type] == nil {
		m.entities[s.Type] = make(map[string]Skeleton)
	}
	m.entities[s.Type][s.ID] = stored
	return stored.Clone(), nil
}

func (m *mockTarget) Update(ctx context.Context, s Skeleton, scope Scope) (Skeleton, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.Key().String()
	m.record("update %s", key)

	rev := 1
	if existing, ok := m.entities[s.Type][s.ID]; ok {
		if s.Revision != "" && s.Revision != existing.Revision {
			return Skeleton{}, &NetworkError{URL: "mock://" + key, Status: 412, Message: "revision mismatch"}
		}
		n, _ := strconv.Atoi(existing.Revision)
		rev = n + 1
	}
	stored := s.Clone()
	stored.Revision = strconv.Itoa(rev)
	if m.entities[s.Type] == nil {
		m.entities[s.Type] = make(map[string]Skeleton)
	}
	m.entities[s.Type][s.ID] = stored
	return stored.Clone(), nil
}

func (m *mockTarget) Delete(ctx context.Context, t EntityType, scope Scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete %s/%s", t, id)
	if err := m.deleteErr[id]; err != nil {
		return err
	}
	if _, ok := m.entities[t][id]; !ok {
		return NewNotFoundError(t, id, nil)
	}
	delete(m.entities[t], id)
	return nil
}

func (m *mockTarget) PutSubresource(ctx context.Context, parent Skeleton, scope Scope, sub Subresource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("put %s/%s/%s", parent.Key(), sub.Kind, sub.ID)
	if err := m.putSubErr[sub.ID]; err != nil {
		return err
	}
	key := parent.Key().String()
	subs := m.subs[key]
	for i, existing := range subs {
		if existing.ID == sub.ID {
			subs[i] = sub
			return nil
		}
	}
	m.subs[key] = append(subs, sub)
	return nil
}

// mockProgress records progress notifications.
type mockProgress struct {
	created int
	updates []string
	stopped ProgressStatus
}

func (p *mockProgress) Create(total int, message string) { p.created = total }
func (p *mockProgress) Update(message string)            { p.updates = append(p.updates, message) }
func (p *mockProgress) Stop(status ProgressStatus, message string) {
	p.stopped = status
}

// mockPrinter records warnings.
type mockPrinter struct {
	warnings []string
}

func (p *mockPrinter) Warn(message string) { p.warnings = append(p.warnings, message) }

// Fixture helpers, remote form.

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func scriptObject(id, name, body string) Object {
	return Object{
		"_id":      id,
		"name":     name,
		"language": "JAVASCRIPT",
		"context":  "AUTHENTICATION_TREE_DECISION_NODE",
		"script":   b64(body),
		"default":  false,
	}
}

func nodeObject(id, nodeType string, extra Object) Object {
	obj := Object{
		"_id":   id,
		"_type": map[string]any{"_id": nodeType, "name": nodeType, "collection": nodeType == "PageNode"},
	}
	for k, v := range extra {
		obj[k] = v
	}
	return obj
}

func pageNodeObject(id string, inner ...[2]string) Object {
	nodes := make([]any, 0, len(inner))
	for _, in := range inner {
		nodes = append(nodes, map[string]any{"_id": in[0], "nodeType": in[1], "displayName": in[0]})
	}
	return nodeObject(id, "PageNode", Object{"nodes": nodes})
}

func treeObject(id string, edges map[string]string) Object {
	nodes := make(map[string]any, len(edges))
	for nodeID, nodeType := range edges {
		nodes[nodeID] = map[string]any{
			"nodeType":    nodeType,
			"displayName": nodeID,
			"connections": map[string]any{"outcome": "e301438c-0bd0-429c-ab0c-66126501069a"},
			"x":           num(100),
			"y":           num(200),
		}
	}
	return Object{
		"_id":         id,
		"entryNodeId": firstKey(edges),
		"nodes":       nodes,
		"staticNodes": map[string]any{"startNode": map[string]any{"x": num(50), "y": num(25)}},
		"enabled":     true,
	}
}

func oauth2ClientObject(id string, claimsScript, tokenScript string) Object {
	return Object{
		"_id": id,
		"overrideOAuth2ClientConfig": map[string]any{
			"oidcClaimsScript":              claimsScript,
			"accessTokenModificationScript": tokenScript,
			"clientsCanSkipConsent":         false,
		},
		"coreOAuth2ClientConfig": map[string]any{"status": "Active"},
	}
}

func num(n int) any {
	return json.Number(strconv.Itoa(n))
}

func firstKey(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
