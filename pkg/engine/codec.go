package engine

import (
	"encoding/base64"
	"strings"
)

// ExportOptions control how entities are written into a document.
type ExportOptions struct {
	// UseStringArrays stores script bodies as arrays of lines.
	UseStringArrays bool

	// NoDecode keeps variable values base64 encoded.
	NoDecode bool

	// Coords keeps the UI coordinates of tree nodes.
	Coords bool

	// IncludeDefault exports entities that ship with the product.
	IncludeDefault bool

	// Deps embeds every dependency of an exported entity.
	Deps bool
}

// DefaultExportOptions returns the options used when none are given.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		UseStringArrays: true,
		Coords:          true,
		Deps:            true,
	}
}

// toDocument converts a remote skeleton into its document form.
func toDocument(s Skeleton, opts ExportOptions) Skeleton {
	out := s.Clone()
	out.Revision = ""
	fields := out.Payload.Fields()
	delete(fields, "_rev")

	switch p := out.Payload.(type) {
	case *Script:
		body, ok := p.Object["script"].(string)
		if !ok {
			break
		}
		if decoded, err := base64.StdEncoding.DecodeString(body); err == nil {
			body = string(decoded)
		}
		if opts.UseStringArrays {
			lines := strings.Split(body, "\n")
			arr := make([]any, len(lines))
			for i, l := range lines {
				arr[i] = l
			}
			p.Object["script"] = arr
		} else {
			p.Object["script"] = body
		}
	case *Variable:
		if opts.NoDecode {
			break
		}
		if enc, ok := p.Object["valueBase64"].(string); ok {
			if decoded, err := base64.StdEncoding.DecodeString(enc); err == nil {
				p.Object["value"] = string(decoded)
				delete(p.Object, "valueBase64")
			}
		}
	case *Tree:
		if opts.Coords {
			break
		}
		for _, key := range []string{"nodes", "staticNodes"} {
			for _, v := range p.Object.Map(key) {
				if edge := asObject(v); edge != nil {
					delete(edge, "x")
					delete(edge, "y")
				}
			}
		}
	}
	return out
}

// fromDocument converts a document skeleton into the form the target expects.
func fromDocument(s Skeleton) Skeleton {
	out := s.Clone()
	out.Revision = ""
	delete(out.Payload.Fields(), "_rev")

	switch p := out.Payload.(type) {
	case *Script:
		var body string
		switch v := p.Object["script"].(type) {
		case []any:
			lines := make([]string, len(v))
			for i, l := range v {
				lines[i], _ = l.(string)
			}
			body = strings.Join(lines, "\n")
		case string:
			body = v
		default:
			return out
		}
		p.Object["script"] = base64.StdEncoding.EncodeToString([]byte(body))
	case *Variable:
		if value, ok := p.Object["value"].(string); ok {
			p.Object["valueBase64"] = base64.StdEncoding.EncodeToString([]byte(value))
			delete(p.Object, "value")
		}
	}
	return out
}

// isDefault reports whether the entity ships with the product.
func isDefault(s Skeleton) bool {
	if p, ok := s.Payload.(*Script); ok {
		return p.IsDefault()
	}
	return false
}
