package types

import (
	"fmt"
	"regexp"
)

type ReplicationMethod string

const (
	FullTable   ReplicationMethod = "FULL_TABLE"
	Incremental ReplicationMethod = "INCREMENTAL"
)

var streamIDPattern = regexp.MustCompile(`^[a-z_]+$`)

// StreamDescriptor is the static definition of one extractable stream
type StreamDescriptor struct {
	ID                string            `json:"tap_stream_id"`
	ReplicationMethod ReplicationMethod `json:"replication_method"`
	// record field holding the bookmark value; empty when the stream keeps none
	BookmarkKey string `json:"bookmark_key,omitempty"`
	// empty only for root streams
	Parent        string      `json:"parent,omitempty"`
	KeyProperties []string    `json:"key_properties"`
	Schema        *TypeSchema `json:"schema"`

	// IDField is published to child streams as the parent id
	IDField string `json:"-"`
	// ParentVars maps request path variables of this stream to fields of a parent record
	ParentVars map[string]string `json:"-"`
}

func (s *StreamDescriptor) IsRoot() bool {
	return s.Parent == ""
}

// Properties returns the declared fields of the stream in order
func (s *StreamDescriptor) Properties() []string {
	if s.Schema == nil {
		return nil
	}
	return s.Schema.Columns()
}

// AutomaticFields are always emitted and must be present on every record
func (s *StreamDescriptor) AutomaticFields() *Set[string] {
	fields := NewSet(s.KeyProperties...)
	if s.BookmarkKey != "" {
		fields.Insert(s.BookmarkKey)
	}
	return fields
}

func (s *StreamDescriptor) Validate() error {
	if !streamIDPattern.MatchString(s.ID) {
		return fmt.Errorf("invalid stream id [%s]; must match %s", s.ID, streamIDPattern)
	}

	switch s.ReplicationMethod {
	case FullTable:
	case Incremental:
		if s.BookmarkKey == "" {
			return fmt.Errorf("incremental stream [%s] has no bookmark key", s.ID)
		}
	default:
		return fmt.Errorf("stream [%s] has invalid replication method [%s]", s.ID, s.ReplicationMethod)
	}

	if s.Parent == s.ID {
		return &CyclicDependencyError{Cycle: []string{s.ID, s.ID}}
	}

	if s.Schema != nil {
		for _, field := range s.AutomaticFields().Array() {
			if !s.Schema.HasColumn(field) {
				return fmt.Errorf("stream [%s] does not declare automatic field [%s]", s.ID, field)
			}
		}
	}

	return nil
}
