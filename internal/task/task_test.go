package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTask struct {
	id       string
	family   string
	deps     []Task
	place    Placement
	complete bool
	runErr   error
}

func (f *fakeTask) Identity() string     { return f.id }
func (f *fakeTask) Family() string       { return f.family }
func (f *fakeTask) Dependencies() []Task { return f.deps }
func (f *fakeTask) Placement() Placement { return f.place }
func (f *fakeTask) Complete() bool       { return f.complete }
func (f *fakeTask) Run(_ context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	f.complete = true
	return nil
}

func TestPlacement_String(t *testing.T) {
	assert.Equal(t, "LOCAL", Local.String())
	assert.Equal(t, "REMOTE", Remote.String())
	assert.Equal(t, "UNKNOWN", Placement(99).String())
}

func TestInfo(t *testing.T) {
	tk := &fakeTask{id: "abc123", family: "TaskA"}
	assert.Equal(t, "TaskA_abc123", Info(tk))
}

func TestTask_RunMarksComplete(t *testing.T) {
	tk := &fakeTask{id: "1", family: "TaskA", place: Local}
	assert.False(t, tk.Complete())
	require := assert.New(t)
	err := tk.Run(context.Background())
	require.NoError(err)
	require.True(tk.Complete())
}
