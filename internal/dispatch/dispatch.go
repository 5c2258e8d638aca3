// Package dispatch implements the dispatcher: the single-threaded
// request/reply loop that is the registry's only mutator.
package dispatch

import (
	"errors"
	"fmt"
	"log"

	"danga.com/saturnd/internal/protocol"
	"danga.com/saturnd/internal/registry"
	"danga.com/saturnd/internal/taskmirror"
	"danga.com/saturnd/internal/transport"
	"danga.com/saturnd/internal/wire"
)

// Dispatcher owns the registry and the transport and runs the request loop.
type Dispatcher struct {
	Transport *transport.Transport
	Registry  *registry.Registry
	Logger    *log.Logger
	MaxFrame  int
	Mirror    *taskmirror.Mirror // optional debug snapshot mirror; nil-safe
}

// New builds a Dispatcher with sane defaults. mirror may be nil.
func New(t *transport.Transport, r *registry.Registry, logger *log.Logger, mirror *taskmirror.Mirror) *Dispatcher {
	return &Dispatcher{Transport: t, Registry: r, Logger: logger, MaxFrame: wire.MaxFrame, Mirror: mirror}
}

// Run executes the dispatch loop until a TERMINATE request is handled or an
// unrecoverable transport error occurs. It returns nil on a clean TERMINATE.
func (d *Dispatcher) Run() error {
	for {
		terminate, err := d.handleOne()
		if err != nil {
			return err
		}
		if terminate {
			d.Registry.StopAll()
			return nil
		}
	}
}

// handleOne processes exactly one request/reply cycle, honoring the
// one-request-per-open discipline of the transport.
func (d *Dispatcher) handleOne() (terminate bool, err error) {
	reqFile, err := d.Transport.OpenRequest()
	if err != nil {
		return false, fmt.Errorf("dispatcher: %w", err)
	}

	payload, err := wire.ReadFrame(reqFile, d.MaxFrame)
	closeErr := reqFile.Close()
	if err != nil {
		if errors.Is(err, wire.ErrMalformed) {
			d.Logger.Printf("dispatcher: malformed request: %v", err)
			return false, nil
		}
		return false, fmt.Errorf("dispatcher: reading request: %w", err)
	}
	if closeErr != nil {
		d.Logger.Printf("dispatcher: closing request pipe: %v", closeErr)
	}

	req, err := wire.DecodeRequest(payload)
	if err != nil {
		d.Logger.Printf("dispatcher: malformed request: %v", err)
		return false, nil
	}

	d.Logger.Printf("request received %q", req.Opcode)

	if req.Opcode == protocol.OpNoop {
		d.Logger.Printf("no reply required")
		return false, nil
	}

	rep := d.dispatch(req)

	replyPayload, err := wire.EncodeReply(req.Opcode, rep)
	if err != nil {
		// Encoding our own reply failing is a bug, not a client error; it
		// aborts this iteration but not the loop.
		d.Logger.Printf("dispatcher: encoding reply: %v", err)
		return false, nil
	}

	if err := d.writeReply(replyPayload); err != nil {
		d.Logger.Printf("dispatcher: writing reply: %v", err)
		return false, nil
	}

	if rep.Type == protocol.ReplyOK {
		d.Logger.Printf("sending to client %q", protocol.ReplyOK)
	} else {
		d.Logger.Printf("sending to client %q with error %q", protocol.ReplyError, rep.ErrorSubcode)
	}

	return req.Opcode == protocol.OpTerminate, nil
}

func (d *Dispatcher) writeReply(payload []byte) error {
	replyFile, err := d.Transport.OpenReply()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := replyFile.Close(); cerr != nil {
			d.Logger.Printf("dispatcher: closing reply pipe: %v", cerr)
		}
	}()
	return wire.WriteFrame(replyFile, payload)
}

// dispatch mutates the registry and/or composes a reply for req. TERMINATE's
// own OK reply is composed here; Run() stops the registry only after that
// reply has been fully written, so the client always sees its TERMINATE
// acknowledged before tasks stop.
func (d *Dispatcher) dispatch(req wire.Request) wire.Reply {
	switch req.Opcode {
	case protocol.OpListTasks:
		return wire.Reply{Type: protocol.ReplyOK, Tasks: d.Registry.SnapshotRunning()}

	case protocol.OpCreateTask:
		task := protocol.Task{Timing: req.Timing, Commandline: req.Commandline}
		id := d.Registry.Insert(task)
		task.ID = id
		if err := d.Mirror.Write(task); err != nil {
			d.Logger.Printf("dispatcher: %v", err)
		}
		return wire.Reply{Type: protocol.ReplyOK, TaskID: id}

	case protocol.OpRemoveTask:
		if !d.Registry.Remove(req.TaskID) {
			return notFound()
		}
		if err := d.Mirror.Remove(req.TaskID); err != nil {
			d.Logger.Printf("dispatcher: %v", err)
		}
		return wire.Reply{Type: protocol.ReplyOK}

	case protocol.OpGetRuns:
		w, ok := d.Registry.Get(req.TaskID)
		if !ok {
			return notFound()
		}
		return wire.Reply{Type: protocol.ReplyOK, Runs: w.Runs()}

	case protocol.OpGetStdout:
		w, ok := d.Registry.Get(req.TaskID)
		if !ok {
			return notFound()
		}
		out, ran := w.LastStdout()
		if !ran {
			return neverRun()
		}
		return wire.Reply{Type: protocol.ReplyOK, Output: out}

	case protocol.OpGetStderr:
		w, ok := d.Registry.Get(req.TaskID)
		if !ok {
			return notFound()
		}
		out, ran := w.LastStderr()
		if !ran {
			return neverRun()
		}
		return wire.Reply{Type: protocol.ReplyOK, Output: out}

	case protocol.OpTerminate:
		return wire.Reply{Type: protocol.ReplyOK}

	default:
		return wire.Reply{Type: protocol.ReplyError, ErrorSubcode: protocol.ErrUnknown}
	}
}

func notFound() wire.Reply {
	return wire.Reply{Type: protocol.ReplyError, ErrorSubcode: protocol.ErrNotFound}
}

func neverRun() wire.Reply {
	return wire.Reply{Type: protocol.ReplyError, ErrorSubcode: protocol.ErrNeverRun}
}
