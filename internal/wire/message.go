package wire

import (
	"fmt"

	"danga.com/saturnd/internal/protocol"
)

// Request is a fully decoded client request: opcode plus whichever payload
// fields that opcode carries.
type Request struct {
	Opcode      protocol.Opcode
	TaskID      uint64 // REMOVE_TASK, GET_TIMES_AND_EXITCODES, GET_STDOUT, GET_STDERR
	Timing      protocol.Timing
	Commandline []string // CREATE_TASK
}

// EncodeRequest builds a request frame payload (used by cassini).
func EncodeRequest(req Request) ([]byte, error) {
	e := NewEncoder()
	e.PutUint16(uint16(req.Opcode))
	switch req.Opcode {
	case protocol.OpCreateTask:
		e.PutTiming(req.Timing)
		if err := e.PutCommandline(req.Commandline); err != nil {
			return nil, err
		}
	case protocol.OpRemoveTask, protocol.OpGetRuns, protocol.OpGetStdout, protocol.OpGetStderr:
		e.PutUint64(req.TaskID)
	case protocol.OpNoop, protocol.OpListTasks, protocol.OpTerminate:
		// no payload
	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrMalformed, req.Opcode)
	}
	return e.Bytes(), nil
}

// DecodeRequest parses a request frame payload (used by saturnd).
func DecodeRequest(payload []byte) (Request, error) {
	d := NewDecoder(payload)
	op, err := d.Uint16()
	if err != nil {
		return Request{}, err
	}
	req := Request{Opcode: protocol.Opcode(op)}
	switch req.Opcode {
	case protocol.OpCreateTask:
		timing, err := d.Timing()
		if err != nil {
			return Request{}, err
		}
		argv, err := d.Commandline()
		if err != nil {
			return Request{}, err
		}
		req.Timing = timing
		req.Commandline = argv
	case protocol.OpRemoveTask, protocol.OpGetRuns, protocol.OpGetStdout, protocol.OpGetStderr:
		id, err := d.Uint64()
		if err != nil {
			return Request{}, err
		}
		req.TaskID = id
	case protocol.OpNoop, protocol.OpListTasks, protocol.OpTerminate:
		// no payload
	default:
		return req, nil // unknown opcode: dispatcher replies ERROR/UNKNOWN
	}
	if !d.Done() {
		return Request{}, fmt.Errorf("%w: trailing bytes after request", ErrMalformed)
	}
	return req, nil
}

// Reply is a fully decoded server reply.
type Reply struct {
	Type         protocol.ReplyType
	ErrorSubcode protocol.ErrorSubcode
	Tasks        []protocol.Task // LIST_TASKS OK
	TaskID       uint64          // CREATE_TASK OK
	Runs         []protocol.Run  // GET_TIMES_AND_EXITCODES OK
	Output       string          // GET_STDOUT/GET_STDERR OK
}

// EncodeReply builds a reply frame payload. op identifies which request this
// answers, since the OK payload shape depends on it.
func EncodeReply(op protocol.Opcode, rep Reply) ([]byte, error) {
	e := NewEncoder()
	e.PutUint16(uint16(rep.Type))
	if rep.Type == protocol.ReplyError {
		e.PutUint16(uint16(rep.ErrorSubcode))
		return e.Bytes(), nil
	}
	switch op {
	case protocol.OpListTasks:
		if err := e.PutTaskArray(rep.Tasks); err != nil {
			return nil, err
		}
	case protocol.OpCreateTask:
		e.PutUint64(rep.TaskID)
	case protocol.OpGetRuns:
		e.PutRunArray(rep.Runs)
	case protocol.OpGetStdout, protocol.OpGetStderr:
		if err := e.PutString(rep.Output); err != nil {
			return nil, err
		}
	case protocol.OpRemoveTask, protocol.OpTerminate:
		// empty OK payload
	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrMalformed, op)
	}
	return e.Bytes(), nil
}

// DecodeReply parses a reply frame payload for the request opcode op (used
// by cassini, which always knows which request it sent).
func DecodeReply(op protocol.Opcode, payload []byte) (Reply, error) {
	d := NewDecoder(payload)
	t, err := d.Uint16()
	if err != nil {
		return Reply{}, err
	}
	rep := Reply{Type: protocol.ReplyType(t)}
	if rep.Type == protocol.ReplyError {
		sub, err := d.Uint16()
		if err != nil {
			return Reply{}, err
		}
		rep.ErrorSubcode = protocol.ErrorSubcode(sub)
		return rep, nil
	}
	switch op {
	case protocol.OpListTasks:
		tasks, err := d.TaskArray()
		if err != nil {
			return Reply{}, err
		}
		rep.Tasks = tasks
	case protocol.OpCreateTask:
		id, err := d.Uint64()
		if err != nil {
			return Reply{}, err
		}
		rep.TaskID = id
	case protocol.OpGetRuns:
		runs, err := d.RunArray()
		if err != nil {
			return Reply{}, err
		}
		rep.Runs = runs
	case protocol.OpGetStdout, protocol.OpGetStderr:
		out, err := d.String()
		if err != nil {
			return Reply{}, err
		}
		rep.Output = out
	case protocol.OpRemoveTask, protocol.OpTerminate:
		// empty OK payload
	default:
		return Reply{}, fmt.Errorf("%w: unknown opcode %d", ErrMalformed, op)
	}
	if !d.Done() {
		return Reply{}, fmt.Errorf("%w: trailing bytes after reply", ErrMalformed)
	}
	return rep, nil
}
