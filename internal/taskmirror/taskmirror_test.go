package taskmirror

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"danga.com/saturnd/internal/protocol"
)

func TestMirrorWriteAndRemove(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	task := protocol.Task{ID: 3, Timing: protocol.Timing{Minutes: 1, Hours: 1, DaysOfWeek: 1}, Commandline: []string{"/bin/true"}}
	require.NoError(t, m.Write(task))

	path := filepath.Join(dir, "task-3.txt")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "task_id: 3")

	require.NoError(t, m.Remove(3))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMirrorNoOpWhenDirEmpty(t *testing.T) {
	var m *Mirror
	assert.NoError(t, m.Write(protocol.Task{ID: 1, Commandline: []string{"/bin/true"}}))
	assert.NoError(t, m.Remove(1))

	m2 := New("")
	assert.NoError(t, m2.Write(protocol.Task{ID: 1, Commandline: []string{"/bin/true"}}))
}
