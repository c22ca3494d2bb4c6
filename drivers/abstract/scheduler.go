package abstract

import (
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils"
)

// PlannedStream is one node of the execution forest
type PlannedStream struct {
	Stream *types.StreamDescriptor
	// Shadow streams run only to supply parent ids to selected descendants
	Shadow   bool
	Fields   []string
	Children []*PlannedStream
}

// PublishVars is the union of the parent variables the children extract from records of this stream
func (p *PlannedStream) PublishVars() map[string]string {
	vars := make(map[string]string)
	for _, child := range p.Children {
		for name, field := range child.Stream.ParentVars {
			vars[name] = field
		}
	}
	return vars
}

// Walk visits the subtree parent first, siblings in declaration order
func (p *PlannedStream) Walk(f func(node *PlannedStream)) {
	f(p)
	for _, child := range p.Children {
		child.Walk(f)
	}
}

// Plan is the ordered set of independent root subtrees of a sync run
type Plan struct {
	Subtrees []*PlannedStream
}

// Order flattens the plan in execution order
func (p *Plan) Order() []*PlannedStream {
	order := []*PlannedStream{}
	for _, subtree := range p.Subtrees {
		subtree.Walk(func(node *PlannedStream) {
			order = append(order, node)
		})
	}
	return order
}

// NewPlan orders the selected streams of a catalog so that every parent precedes its children.
// Unselected ancestors of selected streams are planned in shadow. When resumeStream names a
// planned stream, its subtree is moved first.
func NewPlan(catalog *types.Catalog, resumeStream string) (*Plan, error) {
	descriptors := catalog.Streams()
	byID := make(map[string]*types.StreamDescriptor, len(descriptors))
	// parent -> ordered children
	adjacency := make(map[string][]string)
	roots := []string{}
	for _, descriptor := range descriptors {
		byID[descriptor.ID] = descriptor
		if descriptor.IsRoot() {
			roots = append(roots, descriptor.ID)
			continue
		}
		adjacency[descriptor.Parent] = append(adjacency[descriptor.Parent], descriptor.ID)
	}

	if err := checkCycles(descriptors, byID); err != nil {
		return nil, err
	}

	needed := make(map[string]bool)
	for _, selected := range catalog.SelectedStreams() {
		for id := selected.ID; id != "" && !needed[id]; id = byID[id].Parent {
			needed[id] = true
		}
	}

	var build func(id string) *PlannedStream
	build = func(id string) *PlannedStream {
		node := &PlannedStream{
			Stream: byID[id],
			Shadow: !catalog.IsSelected(id, ""),
		}
		if !node.Shadow {
			node.Fields = catalog.SelectedFields(id)
		}
		for _, child := range adjacency[id] {
			if needed[child] {
				node.Children = append(node.Children, build(child))
			}
		}
		return node
	}

	plan := &Plan{}
	for _, root := range roots {
		if needed[root] {
			plan.Subtrees = append(plan.Subtrees, build(root))
		}
	}

	if resumeStream != "" {
		if descriptor, found := byID[resumeStream]; found {
			plan.rotate(rootOf(descriptor, byID))
		}
	}

	return plan, nil
}

// rotate moves the subtree of root to the front, keeping the relative order of the others
func (p *Plan) rotate(root string) {
	for i, subtree := range p.Subtrees {
		if subtree.Stream.ID != root {
			continue
		}
		reordered := append([]*PlannedStream{subtree}, p.Subtrees[:i]...)
		p.Subtrees = append(reordered, p.Subtrees[i+1:]...)
		return
	}
}

func rootOf(descriptor *types.StreamDescriptor, byID map[string]*types.StreamDescriptor) string {
	for !descriptor.IsRoot() {
		descriptor = byID[descriptor.Parent]
	}
	return descriptor.ID
}

// checkCycles follows the parent chain of every stream; a forest never revisits a stream
func checkCycles(descriptors []*types.StreamDescriptor, byID map[string]*types.StreamDescriptor) error {
	acyclic := make(map[string]bool)
	for _, descriptor := range descriptors {
		path := []string{}
		onPath := make(map[string]int)
		for current := descriptor; current != nil && !acyclic[current.ID]; {
			if idx, seen := onPath[current.ID]; seen {
				cycle := append(append([]string{}, path[idx:]...), current.ID)
				return &types.CyclicDependencyError{Cycle: cycle}
			}
			onPath[current.ID] = len(path)
			path = append(path, current.ID)
			if current.IsRoot() {
				break
			}

			parent, found := byID[current.Parent]
			if !found {
				return fmt.Errorf("stream [%s] references unknown parent: %w", current.ID, &types.UnknownStreamError{StreamID: current.Parent})
			}
			current = parent
		}

		for _, id := range path {
			acyclic[id] = true
		}
	}
	return nil
}

func (p *Plan) String() string {
	names := []string{}
	for _, node := range p.Order() {
		names = append(names, node.Stream.ID+utils.Ternary(node.Shadow, "(shadow)", ""))
	}
	return strings.Join(names, " -> ")
}
