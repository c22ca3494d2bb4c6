package types

import "time"

// Message is a dto for the command outputs written through the logger
type Message struct {
	Type             MessageType      `json:"type"`
	Log              *Log             `json:"log,omitempty"`
	ConnectionStatus *StatusRow       `json:"connectionStatus,omitempty"`
	Catalog          *CatalogDocument `json:"catalog,omitempty"`
	Spec             map[string]any   `json:"spec,omitempty"`
	Summary          *SyncSummary     `json:"summary,omitempty"`
}

type Log struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

type StatusRow struct {
	Status  ConnectionStatus `json:"status,omitempty"`
	Message string           `json:"message,omitempty"`
}

// SingerSchema is the SCHEMA message preceding the records of a stream
type SingerSchema struct {
	Type          MessageType `json:"type"`
	Stream        string      `json:"stream"`
	Schema        *TypeSchema `json:"schema"`
	KeyProperties []string    `json:"key_properties"`
	BookmarkProps []string    `json:"bookmark_properties,omitempty"`
}

type SingerRecord struct {
	Type          MessageType `json:"type"`
	Stream        string      `json:"stream"`
	Record        Record      `json:"record"`
	TimeExtracted time.Time   `json:"time_extracted"`
}

type SingerState struct {
	Type  MessageType `json:"type"`
	Value *State      `json:"value"`
}
