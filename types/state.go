package types

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mitchellh/hashstructure"

	"github.com/datazip-inc/olake-github/constants"
)

// State is the run wide accumulator of bookmarks
type State struct {
	*sync.RWMutex    `json:"-"`
	Version          int                     `json:"version"`
	CurrentlySyncing string                  `json:"currently_syncing,omitempty"`
	Bookmarks        map[string]*StreamState `json:"bookmarks"`
}

type StreamState struct {
	ReplicationKey string `json:"replication_key,omitempty"`
	// bookmark value per scope (repository or parent id)
	Scopes          map[string]any `json:"scopes"`
	LastCompletedAt string         `json:"last_completed_at,omitempty"`
}

func NewState() *State {
	return &State{
		RWMutex:   &sync.RWMutex{},
		Version:   constants.LatestStateVersion,
		Bookmarks: make(map[string]*StreamState),
	}
}

func (s *State) init() {
	if s.RWMutex == nil {
		s.RWMutex = &sync.RWMutex{}
	}
	if s.Bookmarks == nil {
		s.Bookmarks = make(map[string]*StreamState)
	}
}

func (s *State) IsZero() bool {
	return s == nil || (len(s.Bookmarks) == 0 && s.CurrentlySyncing == "")
}

// GetBookmarks returns a copy of the scoped bookmarks of a stream
func (s *State) GetBookmarks(stream string) map[string]any {
	s.init()
	s.RLock()
	defer s.RUnlock()

	out := make(map[string]any)
	if streamState, found := s.Bookmarks[stream]; found {
		for scope, value := range streamState.Scopes {
			out[scope] = value
		}
	}
	return out
}

func (s *State) GetBookmark(stream, scope string) any {
	s.init()
	s.RLock()
	defer s.RUnlock()

	streamState, found := s.Bookmarks[stream]
	if !found {
		return nil
	}
	return streamState.Scopes[scope]
}

// SetBookmarks writes the given scopes of a stream; scopes absent from values are kept
func (s *State) SetBookmarks(stream, replicationKey string, values map[string]any) {
	s.init()
	s.Lock()
	defer s.Unlock()

	streamState := s.streamState(stream)
	if replicationKey != "" {
		streamState.ReplicationKey = replicationKey
	}
	for scope, value := range values {
		streamState.Scopes[scope] = value
	}
}

// MarkCompleted records when the stream last finished all of its scopes
func (s *State) MarkCompleted(stream string, at time.Time) {
	s.init()
	s.Lock()
	defer s.Unlock()

	s.streamState(stream).LastCompletedAt = at.UTC().Format(time.RFC3339)
}

func (s *State) SetCurrentlySyncing(stream string) {
	s.init()
	s.Lock()
	defer s.Unlock()

	s.CurrentlySyncing = stream
}

func (s *State) GetCurrentlySyncing() string {
	s.init()
	s.RLock()
	defer s.RUnlock()

	return s.CurrentlySyncing
}

// ResetStreams drops the bookmarks of the named streams, or of every stream when none is named
func (s *State) ResetStreams(streams ...string) {
	s.init()
	s.Lock()
	defer s.Unlock()

	if len(streams) == 0 {
		s.Bookmarks = make(map[string]*StreamState)
		s.CurrentlySyncing = ""
		return
	}

	for _, stream := range streams {
		delete(s.Bookmarks, stream)
		if s.CurrentlySyncing == stream {
			s.CurrentlySyncing = ""
		}
	}
}

// Merge copies every bookmark of other into s; streams and scopes only known to s survive
func (s *State) Merge(other *State) {
	if other == nil {
		return
	}
	snapshot := other.Snapshot()

	s.init()
	s.Lock()
	defer s.Unlock()

	if snapshot.CurrentlySyncing != "" {
		s.CurrentlySyncing = snapshot.CurrentlySyncing
	}
	for stream, incoming := range snapshot.Bookmarks {
		streamState := s.streamState(stream)
		if incoming.ReplicationKey != "" {
			streamState.ReplicationKey = incoming.ReplicationKey
		}
		if incoming.LastCompletedAt != "" {
			streamState.LastCompletedAt = incoming.LastCompletedAt
		}
		for scope, value := range incoming.Scopes {
			streamState.Scopes[scope] = value
		}
	}
}

// Snapshot returns a deep copy detached from the lock of s
func (s *State) Snapshot() *State {
	s.init()
	s.RLock()
	defer s.RUnlock()

	out := NewState()
	out.Version = constants.LatestStateVersion
	out.CurrentlySyncing = s.CurrentlySyncing
	for stream, streamState := range s.Bookmarks {
		scopes := make(map[string]any, len(streamState.Scopes))
		for scope, value := range streamState.Scopes {
			scopes[scope] = value
		}
		out.Bookmarks[stream] = &StreamState{
			ReplicationKey:  streamState.ReplicationKey,
			Scopes:          scopes,
			LastCompletedAt: streamState.LastCompletedAt,
		}
	}
	return out
}

// Hash fingerprints the persisted content of the state
func (s *State) Hash() (uint64, error) {
	snapshot := s.Snapshot()
	return hashstructure.Hash(struct {
		CurrentlySyncing string
		Bookmarks        map[string]*StreamState
	}{snapshot.CurrentlySyncing, snapshot.Bookmarks}, nil)
}

// caller must hold the write lock
func (s *State) streamState(stream string) *StreamState {
	streamState, found := s.Bookmarks[stream]
	if !found {
		streamState = &StreamState{Scopes: make(map[string]any)}
		s.Bookmarks[stream] = streamState
	}
	if streamState.Scopes == nil {
		streamState.Scopes = make(map[string]any)
	}
	return streamState
}

func (s *State) MarshalJSON() ([]byte, error) {
	snapshot := s.Snapshot()
	type Alias State
	return json.Marshal((*Alias)(snapshot))
}

// UnmarshalJSON upgrades version 0 documents, where bookmarks were keyed by repository first
// ({"owner/repo": {"issues": {"since": "..."}}}) or held a single value per stream
func (s *State) UnmarshalJSON(data []byte) error {
	aux := struct {
		Version          int                        `json:"version"`
		CurrentlySyncing string                     `json:"currently_syncing"`
		Bookmarks        map[string]json.RawMessage `json:"bookmarks"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Version > constants.LatestStateVersion {
		return fmt.Errorf("state version %d is newer than supported version %d", aux.Version, constants.LatestStateVersion)
	}

	*s = *NewState()
	s.CurrentlySyncing = aux.CurrentlySyncing

	if aux.Version == constants.LatestStateVersion {
		for stream, raw := range aux.Bookmarks {
			streamState := &StreamState{}
			if err := json.Unmarshal(raw, streamState); err != nil {
				return fmt.Errorf("failed to read bookmarks of stream [%s]: %s", stream, err)
			}
			if streamState.Scopes == nil {
				streamState.Scopes = make(map[string]any)
			}
			s.Bookmarks[stream] = streamState
		}
		return nil
	}

	for key, raw := range aux.Bookmarks {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("failed to read legacy bookmark [%s]: %s", key, err)
		}

		nested, isObject := value.(map[string]any)
		if !isObject {
			s.streamState(key).Scopes[constants.DefaultScope] = value
			continue
		}

		// key is a repository, nested is keyed by stream
		for stream, bookmark := range nested {
			if inner, ok := bookmark.(map[string]any); ok {
				if since, found := inner["since"]; found {
					s.streamState(stream).Scopes[key] = since
				}
				continue
			}
			s.streamState(stream).Scopes[key] = bookmark
		}
	}

	return nil
}
