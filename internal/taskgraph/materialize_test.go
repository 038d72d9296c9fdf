package taskgraph

import (
	"context"
	"testing"

	"github.com/forgeflow/forgeflow/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTask struct {
	id   string
	deps []task.Task
}

func (s *stubTask) Identity() string            { return s.id }
func (s *stubTask) Family() string              { return "Stub" }
func (s *stubTask) Dependencies() []task.Task   { return s.deps }
func (s *stubTask) Placement() task.Placement   { return task.Local }
func (s *stubTask) Complete() bool              { return false }
func (s *stubTask) Run(_ context.Context) error { return nil }

func identities(ts []task.Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Identity()
	}
	return out
}

func TestMaterialize_SingleNodeNoDeps(t *testing.T) {
	a := &stubTask{id: "a"}
	queue := Materialize(a)
	require.Len(t, queue, 1)
	assert.Equal(t, "a", queue[0].Identity())
}

func TestMaterialize_LinearChain(t *testing.T) {
	a := &stubTask{id: "a"}
	b := &stubTask{id: "b", deps: []task.Task{a}}
	c := &stubTask{id: "c", deps: []task.Task{b}}

	queue := Materialize(c)
	assert.Equal(t, []string{"a", "b", "c"}, identities(queue))
}

func TestMaterialize_FanIn(t *testing.T) {
	// Three independent children feeding one parent.
	c1 := &stubTask{id: "c1"}
	c2 := &stubTask{id: "c2"}
	c3 := &stubTask{id: "c3"}
	p := &stubTask{id: "p", deps: []task.Task{c1, c2, c3}}

	queue := Materialize(p)
	assert.Equal(t, []string{"c1", "c2", "c3", "p"}, identities(queue))
}

func TestMaterialize_Diamond(t *testing.T) {
	// D -> {L, R} -> J. D must appear exactly once.
	d := &stubTask{id: "d"}
	l := &stubTask{id: "l", deps: []task.Task{d}}
	r := &stubTask{id: "r", deps: []task.Task{d}}
	j := &stubTask{id: "j", deps: []task.Task{l, r}}

	queue := Materialize(j)
	assert.Equal(t, []string{"d", "l", "r", "j"}, identities(queue))

	count := 0
	for _, tsk := range queue {
		if tsk.Identity() == "d" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMaterialize_DependencyListShapesYieldSamePostOrder(t *testing.T) {
	// A "dict-like" shape (named, heterogeneous deps) and a "list-like"
	// shape (homogeneous deps) must produce identical post-order as long as
	// the flattened dependency order is the same.
	shared := &stubTask{id: "shared"}

	dictShaped := &stubTask{id: "parent", deps: []task.Task{shared}}
	listShaped := &stubTask{id: "parent", deps: []task.Task{shared}}

	assert.Equal(t, identities(Materialize(dictShaped)), identities(Materialize(listShaped)))
}
