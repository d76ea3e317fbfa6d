package process

import (
	"github.com/embervm/ember/internal/heapobj"
	"github.com/embervm/ember/internal/value"
)

// GCRoots, ObjectChildren and Header together implement
// gc.RootProvider without this package importing internal/gc; the
// edge runs gc -> process instead (gc.Manager.CollectDue constructs a
// gc.Collector with a Process as its RootProvider argument).
//
// GCRoots enumerates every register, every captured closure binding
// across the frame stack, and every mailbox payload — spec.md §8
// invariant 1's roots.
func (p *Process) GCRoots(young bool) []value.Ref {
	var roots []value.Ref
	for _, r := range p.Registers {
		if r.IsHeap() {
			roots = append(roots, r)
		}
	}
	for _, f := range p.Frames {
		for _, c := range f.Captured {
			if c.IsHeap() {
				roots = append(roots, c)
			}
		}
	}
	for _, msg := range p.Mailbox.Peek() {
		if r, ok := msg.Payload.(value.Ref); ok && r.IsHeap() {
			roots = append(roots, r)
		}
	}
	return roots
}

// ObjectChildren returns every heap reference directly held by r's
// fields, for the tracer to push onto its work-stealing deque.
func (p *Process) ObjectChildren(r value.Ref) []value.Ref {
	if !r.IsHeap() {
		return nil
	}
	fields := heapobj.Fields(r)
	var children []value.Ref
	for _, f := range fields {
		if f.IsHeap() {
			children = append(children, f)
		}
	}
	return children
}

// Header returns r's object header, or nil for non-heap refs.
func (p *Process) Header(r value.Ref) *value.Header {
	if !r.IsHeap() {
		return nil
	}
	return heapobj.Header(r)
}
