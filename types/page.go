package types

import "net/url"

// ParentRef identifies one unit of work of a stream: a repository for root streams, a parent
// record for child streams. Vars fill the path template of the request.
type ParentRef struct {
	ID string `json:"id"`
	// scope of the parent when it is itself a child stream
	Qualifier string            `json:"qualifier,omitempty"`
	Vars      map[string]string `json:"vars,omitempty"`
}

// Scope is the key bookmarks of the unit are stored under
func (p ParentRef) Scope() string {
	if p.Qualifier == "" {
		return p.ID
	}
	return p.Qualifier + "/" + p.ID
}

// ParentContext is the ordered set of parent references a child stream iterates over
type ParentContext struct {
	refs *Set[ParentRef]
}

func NewParentContext(refs ...ParentRef) *ParentContext {
	ctx := &ParentContext{refs: NewSet[ParentRef]()}
	ctx.refs.WithHasher(func(ref ParentRef) uint64 {
		return hashString(ref.Scope())
	})
	ctx.refs.Insert(refs...)
	return ctx
}

// Add keeps the first reference of every scope
func (p *ParentContext) Add(refs ...ParentRef) {
	p.refs.Insert(refs...)
}

func (p *ParentContext) Refs() []ParentRef {
	if p == nil {
		return nil
	}
	return p.refs.Array()
}

func (p *ParentContext) Len() int {
	if p == nil {
		return 0
	}
	return p.refs.Len()
}

// ResourceRef describes one upstream collection request
type ResourceRef struct {
	Stream string
	Path   string
	Query  url.Values
	Accept string
	// unit of work the request belongs to
	Parent ParentRef
}

// Page is one response of a collection; an empty NextToken marks the last page
type Page struct {
	Records   []Record
	NextToken string
}

func (p *Page) Terminal() bool {
	return p.NextToken == ""
}
