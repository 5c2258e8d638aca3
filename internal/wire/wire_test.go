package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"danga.com/saturnd/internal/protocol"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello saturnd")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf, MaxFrame)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 100)))
	_, err := ReadFrame(&buf, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadFrameEOFMidFrame(t *testing.T) {
	var buf bytes.Buffer
	// Claim a 100-byte payload but only write 5.
	e := NewEncoder()
	e.PutUint32(100)
	buf.Write(e.Bytes())
	buf.Write([]byte("short"))
	_, err := ReadFrame(&buf, MaxFrame)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Opcode: protocol.OpNoop},
		{Opcode: protocol.OpListTasks},
		{Opcode: protocol.OpTerminate},
		{Opcode: protocol.OpRemoveTask, TaskID: 42},
		{Opcode: protocol.OpGetRuns, TaskID: 7},
		{Opcode: protocol.OpGetStdout, TaskID: 1},
		{Opcode: protocol.OpGetStderr, TaskID: 1},
		{
			Opcode:      protocol.OpCreateTask,
			Timing:      protocol.Timing{Minutes: 1 << 30, Hours: 1 << 10, DaysOfWeek: 1 << 3},
			Commandline: []string{"/bin/sh", "-c", "exit 7"},
		},
	}
	for _, req := range cases {
		payload, err := EncodeRequest(req)
		require.NoError(t, err)
		decoded, err := DecodeRequest(payload)
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	tasks := []protocol.Task{
		{ID: 0, Timing: protocol.Timing{Minutes: 1, Hours: 1, DaysOfWeek: 1}, Commandline: []string{"/bin/true"}},
		{ID: 1, Timing: protocol.Timing{Minutes: 2, Hours: 2, DaysOfWeek: 2}, Commandline: []string{"/bin/echo", "hi"}},
	}
	runs := []protocol.Run{
		{Time: 100, ExitCode: 0},
		{Time: 160, ExitCode: protocol.SpawnFailureExitCode},
	}

	cases := []struct {
		op  protocol.Opcode
		rep Reply
	}{
		{protocol.OpListTasks, Reply{Type: protocol.ReplyOK, Tasks: tasks}},
		{protocol.OpCreateTask, Reply{Type: protocol.ReplyOK, TaskID: 99}},
		{protocol.OpRemoveTask, Reply{Type: protocol.ReplyOK}},
		{protocol.OpGetRuns, Reply{Type: protocol.ReplyOK, Runs: runs}},
		{protocol.OpGetStdout, Reply{Type: protocol.ReplyOK, Output: "hello\n"}},
		{protocol.OpGetStderr, Reply{Type: protocol.ReplyOK, Output: ""}},
		{protocol.OpTerminate, Reply{Type: protocol.ReplyOK}},
		{protocol.OpRemoveTask, Reply{Type: protocol.ReplyError, ErrorSubcode: protocol.ErrNotFound}},
		{protocol.OpGetStdout, Reply{Type: protocol.ReplyError, ErrorSubcode: protocol.ErrNeverRun}},
	}
	for _, c := range cases {
		payload, err := EncodeReply(c.op, c.rep)
		require.NoError(t, err)
		decoded, err := DecodeReply(c.op, payload)
		require.NoError(t, err)
		assert.Equal(t, c.rep, decoded)
	}
}

func TestDecoderRejectsOversizedString(t *testing.T) {
	e := NewEncoder()
	e.PutUint32(MaxString + 1)
	d := NewDecoder(e.Bytes())
	_, err := d.String()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecoderRejectsTooManyArgs(t *testing.T) {
	e := NewEncoder()
	e.PutUint32(MaxArgs + 1)
	d := NewDecoder(e.Bytes())
	_, err := d.Commandline()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRequestRejectsTrailingBytes(t *testing.T) {
	payload, err := EncodeRequest(Request{Opcode: protocol.OpListTasks})
	require.NoError(t, err)
	payload = append(payload, 0xFF)
	_, err = DecodeRequest(payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}
