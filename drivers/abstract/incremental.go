package abstract

import (
	"fmt"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils"
	"github.com/datazip-inc/olake-github/utils/typeutils"
)

// cursor tracks the bookmark of one scope of an incremental stream
type cursor struct {
	key string
	// records strictly below lowerBound are skipped
	lowerBound any
	max        any
}

// newCursor starts from the stored bookmark of the scope, or from startDate when there is none
func newCursor(stream *types.StreamDescriptor, stored any, startDate string) *cursor {
	if stream.ReplicationMethod != types.Incremental {
		return &cursor{}
	}

	c := &cursor{key: stream.BookmarkKey, lowerBound: stored, max: stored}
	if stored == nil && startDate != "" {
		c.lowerBound = startDate
	}
	return c
}

// LowerBound is passed to the first request of the scope as a filter
func (c *cursor) LowerBound() string {
	if c.lowerBound == nil {
		return ""
	}
	return fmt.Sprintf("%v", c.lowerBound)
}

// Accept reports whether a record is emitted and advances the in-flight maximum; the bound is
// inclusive so records equal to the stored bookmark are emitted again
func (c *cursor) Accept(record types.Record) bool {
	if c.key == "" {
		return true
	}

	value := record[c.key]
	if c.lowerBound != nil && typeutils.Compare(value, c.lowerBound) < 0 {
		return false
	}

	// max wins, pages out of order never move the bookmark back
	c.max = utils.Ternary(typeutils.Compare(value, c.max) == 1, value, c.max)
	return true
}

// Value is the bookmark reached so far; nil when nothing was stored or seen
func (c *cursor) Value() any {
	return c.max
}

// maxBookmark merges two bookmark values of the same scope
func maxBookmark(stored, value any) any {
	return utils.Ternary(typeutils.Compare(value, stored) >= 0, value, stored)
}
