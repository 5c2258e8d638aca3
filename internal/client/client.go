// Package client is cassini's thin encoder for the wire protocol: open the
// request pipe, write one frame, open the reply pipe, read one frame,
// decode it. Lives outside saturnd itself, but every complete repo needs
// the other end of the wire.
package client

import (
	"fmt"
	"os"

	"danga.com/saturnd/internal/protocol"
	"danga.com/saturnd/internal/transport"
	"danga.com/saturnd/internal/wire"
)

func openForWrite(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY, 0)
}

func openForRead(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// Client issues one request/reply round trip at a time against a running
// saturnd, matching the daemon's "one request per open" discipline.
type Client struct {
	transport *transport.Transport
	maxFrame  int
}

// New builds a Client talking to the pipes under dir.
func New(dir string) *Client {
	return &Client{transport: transport.New(dir), maxFrame: wire.MaxFrame}
}

// List sends LIST_TASKS.
func (c *Client) List() ([]protocol.Task, error) {
	rep, err := c.call(wire.Request{Opcode: protocol.OpListTasks})
	if err != nil {
		return nil, err
	}
	return rep.Tasks, nil
}

// Create sends CREATE_TASK.
func (c *Client) Create(timing protocol.Timing, argv []string) (uint64, error) {
	rep, err := c.call(wire.Request{Opcode: protocol.OpCreateTask, Timing: timing, Commandline: argv})
	if err != nil {
		return 0, err
	}
	return rep.TaskID, nil
}

// Remove sends REMOVE_TASK.
func (c *Client) Remove(id uint64) error {
	_, err := c.call(wire.Request{Opcode: protocol.OpRemoveTask, TaskID: id})
	return err
}

// Runs sends GET_TIMES_AND_EXITCODES.
func (c *Client) Runs(id uint64) ([]protocol.Run, error) {
	rep, err := c.call(wire.Request{Opcode: protocol.OpGetRuns, TaskID: id})
	if err != nil {
		return nil, err
	}
	return rep.Runs, nil
}

// Stdout sends GET_STDOUT.
func (c *Client) Stdout(id uint64) (string, error) {
	rep, err := c.call(wire.Request{Opcode: protocol.OpGetStdout, TaskID: id})
	if err != nil {
		return "", err
	}
	return rep.Output, nil
}

// Stderr sends GET_STDERR.
func (c *Client) Stderr(id uint64) (string, error) {
	rep, err := c.call(wire.Request{Opcode: protocol.OpGetStderr, TaskID: id})
	if err != nil {
		return "", err
	}
	return rep.Output, nil
}

// Terminate sends TERMINATE.
func (c *Client) Terminate() error {
	_, err := c.call(wire.Request{Opcode: protocol.OpTerminate})
	return err
}

// ReplyError wraps a decoded ERROR reply so callers can switch on its
// subcode with errors.As.
type ReplyError struct {
	Subcode protocol.ErrorSubcode
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("server error: %s", e.Subcode)
}

// call performs one request/reply round trip, opening the request pipe
// first (blocking until the daemon's next loop iteration opens it for
// reading) and then the reply pipe, matching the daemon's own open order.
func (c *Client) call(req wire.Request) (wire.Reply, error) {
	reqFile, err := openForWrite(c.transport.RequestPath)
	if err != nil {
		return wire.Reply{}, fmt.Errorf("opening request pipe: %w", err)
	}
	payload, err := wire.EncodeRequest(req)
	if err != nil {
		reqFile.Close()
		return wire.Reply{}, fmt.Errorf("encoding request: %w", err)
	}
	if err := wire.WriteFrame(reqFile, payload); err != nil {
		reqFile.Close()
		return wire.Reply{}, fmt.Errorf("writing request: %w", err)
	}
	if err := reqFile.Close(); err != nil {
		return wire.Reply{}, fmt.Errorf("closing request pipe: %w", err)
	}

	repFile, err := openForRead(c.transport.ReplyPath)
	if err != nil {
		return wire.Reply{}, fmt.Errorf("opening reply pipe: %w", err)
	}
	defer repFile.Close()

	replyPayload, err := wire.ReadFrame(repFile, c.maxFrame)
	if err != nil {
		return wire.Reply{}, fmt.Errorf("reading reply: %w", err)
	}
	rep, err := wire.DecodeReply(req.Opcode, replyPayload)
	if err != nil {
		return wire.Reply{}, err
	}
	if rep.Type == protocol.ReplyError {
		return rep, &ReplyError{Subcode: rep.ErrorSubcode}
	}
	return rep, nil
}
