package engine

// ResolveDependencies returns the outgoing references of an entity, in a
// stable order. Scripts, resource types, secret stores and variables
// reference nothing.
func ResolveDependencies(s Skeleton) []DependencyRef {
	var refs []DependencyRef
	switch p := s.Payload.(type) {
	case *OAuth2Client:
		scripts := p.ScriptRefs()
		for _, field := range OAuth2ClientScriptFields {
			if id, ok := scripts[field]; ok {
				refs = append(refs, DependencyRef{
					Type:  TypeScript,
					ID:    id,
					Field: "overrideOAuth2ClientConfig." + field,
				})
			}
		}
	case *Node:
		if id := p.ScriptID(); id != "" && id != EmptyScriptRef {
			refs = append(refs, DependencyRef{Type: TypeScript, ID: id, Field: "script"})
		}
		if p.IsContainer() {
			for _, inner := range p.InnerNodes() {
				refs = append(refs, DependencyRef{
					Type:    TypeNode,
					ID:      inner.ID,
					Subtype: inner.NodeType,
					Field:   "nodes",
					Owned:   true,
				})
			}
		}
	case *Tree:
		for _, edge := range p.Edges() {
			refs = append(refs, DependencyRef{
				Type:    TypeNode,
				ID:      edge.NodeID,
				Subtype: edge.NodeType,
				Field:   "nodes",
				Owned:   true,
			})
		}
	case *Policy:
		for _, id := range p.ResourceTypeIDs() {
			refs = append(refs, DependencyRef{Type: TypeResourceType, ID: id, Field: "resourceTypeUuids"})
		}
		for _, id := range p.ScriptIDs() {
			refs = append(refs, DependencyRef{Type: TypeScript, ID: id, Field: "condition.scriptId"})
		}
	}
	return dedupeRefs(refs)
}

func dedupeRefs(refs []DependencyRef) []DependencyRef {
	if len(refs) < 2 {
		return refs
	}
	seen := make(map[Key]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}

// RewriteReferences replaces referenced ids found in idMap, in place on a
// copy of the skeleton, and returns the copy. idMap is keyed by the old key.
func RewriteReferences(s Skeleton, idMap map[Key]string) Skeleton {
	out := s.Clone()
	if len(idMap) == 0 {
		return out
	}
	lookup := func(t EntityType, id string) (string, bool) {
		nid, ok := idMap[Key{Type: t, ID: id}]
		return nid, ok
	}

	switch p := out.Payload.(type) {
	case *OAuth2Client:
		override := p.Object.Map("overrideOAuth2ClientConfig")
		for _, field := range OAuth2ClientScriptFields {
			if nid, ok := lookup(TypeScript, override.String(field)); ok {
				override[field] = nid
			}
		}
	case *Node:
		if nid, ok := lookup(TypeScript, p.ScriptID()); ok {
			p.Object["script"] = nid
		}
		for _, v := range p.Object.Slice("nodes") {
			inner := asObject(v)
			if nid, ok := lookup(TypeNode, inner.String("_id")); ok {
				inner["_id"] = nid
			}
		}
	case *Tree:
		rewriteTree(p, lookup)
	case *Policy:
		uuids := p.Object.Slice("resourceTypeUuids")
		for i, v := range uuids {
			if id, ok := v.(string); ok {
				if nid, ok := lookup(TypeResourceType, id); ok {
					uuids[i] = nid
				}
			}
		}
		walkConditions(p.Object.Map("condition"), func(c Object) {
			if c.String("type") != "Script" {
				return
			}
			if nid, ok := lookup(TypeScript, c.String("scriptId")); ok {
				c["scriptId"] = nid
			}
		})
	}
	return out
}

func rewriteTree(p *Tree, lookup func(EntityType, string) (string, bool)) {
	rename := func(id string) string {
		if nid, ok := lookup(TypeNode, id); ok {
			return nid
		}
		return id
	}

	if nodes := p.Object.Map("nodes"); nodes != nil {
		renamed := make(map[string]any, len(nodes))
		for id, v := range nodes {
			edge := asObject(v)
			if conns := edge.Map("connections"); conns != nil {
				for outcome, target := range conns {
					if tid, ok := target.(string); ok {
						conns[outcome] = rename(tid)
					}
				}
			}
			renamed[rename(id)] = v
		}
		p.Object["nodes"] = renamed
	}
	if entry := p.Object.String("entryNodeId"); entry != "" {
		p.Object["entryNodeId"] = rename(entry)
	}
}
