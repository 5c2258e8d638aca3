// Package taskmirror implements an optional, best-effort debug mirror: when
// -tasks-dir is set, one human-readable file per task is (re)written on
// CREATE_TASK and removed on REMOVE_TASK, purely for operator inspection.
// Nothing in saturnd ever reads these files back; task state does not
// survive a restart.
package taskmirror

import (
	"fmt"
	"os"
	"path/filepath"

	"danga.com/saturnd/internal/protocol"
)

// Mirror writes one snapshot file per task under Dir.
type Mirror struct {
	Dir string
}

// New returns a Mirror rooted at dir, or a no-op Mirror if dir is empty.
func New(dir string) *Mirror {
	return &Mirror{Dir: dir}
}

func (m *Mirror) enabled() bool { return m != nil && m.Dir != "" }

func (m *Mirror) path(id uint64) string {
	return filepath.Join(m.Dir, fmt.Sprintf("task-%d.txt", id))
}

// Write (re)writes the snapshot file for task.
func (m *Mirror) Write(task protocol.Task) error {
	if !m.enabled() {
		return nil
	}
	if err := os.MkdirAll(m.Dir, 0777); err != nil {
		return fmt.Errorf("taskmirror: creating %q: %w", m.Dir, err)
	}
	body := fmt.Sprintf("task_id: %d\nminutes: %#064b\nhours: %#032b\ndaysofweek: %#08b\ncommandline: %v\n",
		task.ID, task.Timing.Minutes, task.Timing.Hours, task.Timing.DaysOfWeek, task.Commandline)
	if err := os.WriteFile(m.path(task.ID), []byte(body), 0644); err != nil {
		return fmt.Errorf("taskmirror: writing task %d: %w", task.ID, err)
	}
	return nil
}

// Remove deletes the snapshot file for id, if any.
func (m *Mirror) Remove(id uint64) error {
	if !m.enabled() {
		return nil
	}
	if err := os.Remove(m.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("taskmirror: removing task %d: %w", id, err)
	}
	return nil
}
