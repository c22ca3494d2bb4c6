package constants

// State version constants for backward compatibility.
//
// Version History:
//   - Version 0: Legacy format; a flat map of stream -> bookmark value without scopes.
//     Loaded states of this version are upgraded in memory by keeping every value under the
//     default scope.
//   - Version 1: Current Version
//     * bookmarks are keyed by stream, then by scope (repository for root streams, parent id for
//     child streams)
//     * currently_syncing marks the stream that was running when the previous run stopped

const (
	LatestStateVersion = 1
)

// DefaultScope is used for bookmarks that were written without any scope
const DefaultScope = "_default"
