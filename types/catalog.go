package types

import (
	"fmt"

	"github.com/datazip-inc/olake-github/constants"
)

// CatalogDocument is the loosely typed catalog exchanged with discover and sync
type CatalogDocument struct {
	Streams []*CatalogEntry `json:"streams"`
}

type CatalogEntry struct {
	TapStreamID   string          `json:"tap_stream_id"`
	Stream        string          `json:"stream"`
	KeyProperties []string        `json:"key_properties"`
	Schema        *TypeSchema     `json:"schema,omitempty"`
	Metadata      []MetadataEntry `json:"metadata"`
}

// MetadataEntry holds the metadata of the stream (empty breadcrumb) or of one of its
// properties (breadcrumb ["properties", "<field>"])
type MetadataEntry struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

func (e *CatalogEntry) streamMetadata() map[string]any {
	for _, entry := range e.Metadata {
		if len(entry.Breadcrumb) == 0 {
			return entry.Metadata
		}
	}
	return nil
}

func (e *CatalogEntry) fieldMetadata(field string) map[string]any {
	for _, entry := range e.Metadata {
		if len(entry.Breadcrumb) == 2 && entry.Breadcrumb[0] == "properties" && entry.Breadcrumb[1] == field {
			return entry.Metadata
		}
	}
	return nil
}

// Selected reports the stream level selection of the entry
func (e *CatalogEntry) Selected() bool {
	if selected, ok := e.streamMetadata()[constants.MetaSelected].(bool); ok {
		return selected
	}
	// older catalogs mark selection on the schema
	if e.Schema != nil && e.Schema.Selected != nil {
		return *e.Schema.Selected
	}
	return false
}

// Select marks the named streams as selected in the document
func (d *CatalogDocument) Select(ids ...string) error {
	for _, id := range ids {
		entry := d.entry(id)
		if entry == nil {
			return &UnknownStreamError{StreamID: id}
		}

		meta := entry.streamMetadata()
		if meta == nil {
			meta = map[string]any{}
			entry.Metadata = append([]MetadataEntry{{Breadcrumb: []string{}, Metadata: meta}}, entry.Metadata...)
		}
		meta[constants.MetaSelected] = true
	}
	return nil
}

// Deselect excludes a field of a stream from emission
func (d *CatalogDocument) Deselect(id, field string) error {
	entry := d.entry(id)
	if entry == nil {
		return &UnknownStreamError{StreamID: id}
	}

	meta := entry.fieldMetadata(field)
	if meta == nil {
		meta = map[string]any{}
		entry.Metadata = append(entry.Metadata, MetadataEntry{Breadcrumb: []string{"properties", field}, Metadata: meta})
	}
	meta[constants.MetaSelected] = false
	return nil
}

func (d *CatalogDocument) entry(id string) *CatalogEntry {
	for _, entry := range d.Streams {
		if entry.TapStreamID == id {
			return entry
		}
	}
	return nil
}

// DiscoverCatalog renders stream descriptors as a catalog document with replication metadata
func DiscoverCatalog(descriptors []*StreamDescriptor) *CatalogDocument {
	doc := &CatalogDocument{Streams: []*CatalogEntry{}}
	for _, descriptor := range descriptors {
		streamMeta := map[string]any{
			constants.MetaSelectedByDefault:       false,
			constants.MetaTableKeyProperties:      descriptor.KeyProperties,
			constants.MetaForcedReplicationMethod: string(descriptor.ReplicationMethod),
		}
		if descriptor.BookmarkKey != "" {
			streamMeta[constants.MetaValidReplicationKeys] = []string{descriptor.BookmarkKey}
		}
		if !descriptor.IsRoot() {
			streamMeta[constants.MetaParentStream] = descriptor.Parent
		}

		entry := &CatalogEntry{
			TapStreamID:   descriptor.ID,
			Stream:        descriptor.ID,
			KeyProperties: descriptor.KeyProperties,
			Schema:        descriptor.Schema,
			Metadata:      []MetadataEntry{{Breadcrumb: []string{}, Metadata: streamMeta}},
		}

		automatic := descriptor.AutomaticFields()
		for _, field := range descriptor.Properties() {
			inclusion := constants.InclusionAvailable
			if automatic.Exists(field) {
				inclusion = constants.InclusionAutomatic
			}
			entry.Metadata = append(entry.Metadata, MetadataEntry{
				Breadcrumb: []string{"properties", field},
				Metadata:   map[string]any{constants.MetaInclusion: inclusion},
			})
		}

		doc.Streams = append(doc.Streams, entry)
	}

	return doc
}

type catalogStream struct {
	descriptor *StreamDescriptor
	selected   bool
	excluded   *Set[string]
}

// Catalog maps stream ids to descriptors and their selection; it is read only once built
type Catalog struct {
	order   []string
	streams map[string]*catalogStream
}

// NewCatalog validates the driver descriptors and applies the selection of the document.
// A nil document selects nothing.
func NewCatalog(descriptors []*StreamDescriptor, doc *CatalogDocument) (*Catalog, error) {
	catalog := &Catalog{streams: make(map[string]*catalogStream)}
	for _, descriptor := range descriptors {
		if err := descriptor.Validate(); err != nil {
			return nil, err
		}
		if _, found := catalog.streams[descriptor.ID]; found {
			return nil, fmt.Errorf("stream [%s] declared more than once", descriptor.ID)
		}

		catalog.order = append(catalog.order, descriptor.ID)
		catalog.streams[descriptor.ID] = &catalogStream{descriptor: descriptor, excluded: NewSet[string]()}
	}

	for _, descriptor := range descriptors {
		if !descriptor.IsRoot() {
			if _, found := catalog.streams[descriptor.Parent]; !found {
				return nil, fmt.Errorf("stream [%s] references unknown parent: %w", descriptor.ID, &UnknownStreamError{StreamID: descriptor.Parent})
			}
		}
	}

	if doc == nil {
		return catalog, nil
	}

	for _, entry := range doc.Streams {
		stream, found := catalog.streams[entry.TapStreamID]
		if !found {
			return nil, &UnknownStreamError{StreamID: entry.TapStreamID}
		}

		stream.selected = entry.Selected()
		automatic := stream.descriptor.AutomaticFields()
		for _, field := range stream.descriptor.Properties() {
			meta := entry.fieldMetadata(field)
			if meta == nil || automatic.Exists(field) {
				continue
			}

			if inclusion, _ := meta[constants.MetaInclusion].(string); inclusion == constants.InclusionUnsupported {
				stream.excluded.Insert(field)
				continue
			}
			if selected, ok := meta[constants.MetaSelected].(bool); ok && !selected {
				stream.excluded.Insert(field)
			}
		}
	}

	return catalog, nil
}

func (c *Catalog) Resolve(id string) (*StreamDescriptor, error) {
	stream, found := c.streams[id]
	if !found {
		return nil, &UnknownStreamError{StreamID: id}
	}
	return stream.descriptor, nil
}

// IsSelected with an empty field reports stream selection
func (c *Catalog) IsSelected(id, field string) bool {
	stream, found := c.streams[id]
	if !found || !stream.selected {
		return false
	}
	if field == "" {
		return true
	}
	if stream.descriptor.Schema != nil && !stream.descriptor.Schema.HasColumn(field) {
		return false
	}

	return !stream.excluded.Exists(field)
}

// SelectedFields returns the fields to emit for a stream in declaration order
func (c *Catalog) SelectedFields(id string) []string {
	stream, found := c.streams[id]
	if !found {
		return nil
	}

	fields := []string{}
	for _, field := range stream.descriptor.Properties() {
		if !stream.excluded.Exists(field) {
			fields = append(fields, field)
		}
	}
	return fields
}

// SelectedStreams returns selected descriptors in declaration order
func (c *Catalog) SelectedStreams() []*StreamDescriptor {
	selected := []*StreamDescriptor{}
	for _, id := range c.order {
		if c.streams[id].selected {
			selected = append(selected, c.streams[id].descriptor)
		}
	}
	return selected
}

// Streams returns all descriptors in declaration order
func (c *Catalog) Streams() []*StreamDescriptor {
	all := make([]*StreamDescriptor, 0, len(c.order))
	for _, id := range c.order {
		all = append(all, c.streams[id].descriptor)
	}
	return all
}
