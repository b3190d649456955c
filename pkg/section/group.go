package section

import (
	"errors"
	"io"
)

// ErrAllFailed is returned by a Group when every child section failed.
var ErrAllFailed = errors.New("all subsections failed")

// Group is a Producer whose body is made of nested sections. Wrap it in a Section to
// get a top-level section with [name] subsections:
//
//	section.New("processes", section.NewGroup(summary, top), logger)
type Group struct {
	children []*Section
}

// NewGroup creates a Group that produces the given children in order.
func NewGroup(children ...*Section) *Group {
	return &Group{children: children}
}

// Children returns the child sections.
func (g *Group) Children() []*Section {
	return g.children
}

// Produce writes every child with nested framing. A failed child is left out. The
// group only fails if it has children and all of them failed.
func (g *Group) Produce(w io.Writer) error {
	failed := 0
	for _, child := range g.children {
		if !child.ProduceOutput(w, true) {
			failed++
		}
	}
	if len(g.children) > 0 && failed == len(g.children) {
		return ErrAllFailed
	}
	return nil
}

var _ Producer = (*Group)(nil)
