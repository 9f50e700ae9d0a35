package engine

import "time"

// TemplateFactory creates empty export documents stamped with metadata.
type TemplateFactory struct {
	conn        Connection
	tool        string
	toolVersion string
	now         func() time.Time
}

// NewTemplateFactory creates a factory for documents exported from conn.
func NewTemplateFactory(conn Connection, tool, toolVersion string) *TemplateFactory {
	return &TemplateFactory{
		conn:        conn,
		tool:        tool,
		toolVersion: toolVersion,
		now:         time.Now,
	}
}

// WithClock replaces the clock used for exportDate.
func (f *TemplateFactory) WithClock(now func() time.Time) *TemplateFactory {
	f.now = now
	return f
}

// Metadata returns fresh export metadata.
func (f *TemplateFactory) Metadata() *ExportMetaData {
	return &ExportMetaData{
		Origin:            f.conn.Host,
		OriginAmVersion:   f.conn.ProductVersion,
		ExportedBy:        f.conn.Principal,
		ExportDate:        f.now().UTC().Format(time.RFC3339),
		ExportTool:        f.tool,
		ExportToolVersion: f.toolVersion,
	}
}

// CreateExportTemplate returns a document with metadata and an empty map for t.
func (f *TemplateFactory) CreateExportTemplate(t EntityType) *ExportDocument {
	doc := NewExportDocument(f.Metadata())
	doc.Ensure(t)
	return doc
}
