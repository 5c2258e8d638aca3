// Package wire implements the saturnd protocol's byte-level codec:
// fixed-width big-endian integers, length-prefixed strings, and the
// composite Task/Run/Timing records built from them. It never reaches for a
// generic serialization library — the wire layout is specified down to the
// byte, so there is nothing for one to do that hand-rolled encoding/binary
// calls don't already do more directly (see DESIGN.md).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"danga.com/saturnd/internal/protocol"
)

// ErrMalformed is returned (possibly wrapped) for any frame that violates the
// wire contract: an over-long prefix, a short read, or an EOF mid-frame.
var ErrMalformed = errors.New("malformed frame")

// Limits are generous but bounded ceilings on strings, argc, and frame
// length, so a corrupt or hostile peer can't force unbounded allocation.
const (
	MaxString = 1 << 20  // 1 MiB per string
	MaxArgs   = 1 << 16  // 65536 argv entries
	MaxFrame  = 16 << 20 // 16 MiB total frame payload
)

// Encoder accumulates a frame payload (everything after the leading u32
// total-length prefix that WriteFrame adds).
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) PutUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutString(s string) error {
	if len(s) > MaxString {
		return fmt.Errorf("%w: string length %d exceeds max %d", ErrMalformed, len(s), MaxString)
	}
	e.PutUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

func (e *Encoder) PutCommandline(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("%w: commandline must have at least one argument", ErrMalformed)
	}
	if len(argv) > MaxArgs {
		return fmt.Errorf("%w: argc %d exceeds max %d", ErrMalformed, len(argv), MaxArgs)
	}
	e.PutUint32(uint32(len(argv)))
	for _, a := range argv {
		if err := e.PutString(a); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) PutTiming(t protocol.Timing) {
	e.PutUint64(t.Minutes)
	e.PutUint32(t.Hours)
	e.buf = append(e.buf, t.DaysOfWeek)
}

// PutTask encodes a Task. includeID controls whether task_id is written on
// the wire: omitted for CREATE_TASK requests, included everywhere else
// (LIST_TASKS replies and the Task array).
func (e *Encoder) PutTask(t protocol.Task, includeID bool) error {
	if includeID {
		e.PutUint64(t.ID)
	}
	e.PutTiming(t.Timing)
	return e.PutCommandline(t.Commandline)
}

func (e *Encoder) PutTaskArray(tasks []protocol.Task) error {
	e.PutUint32(uint32(len(tasks)))
	for _, t := range tasks {
		if err := e.PutTask(t, true); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) PutRunArray(runs []protocol.Run) {
	e.PutUint32(uint32(len(runs)))
	for _, r := range runs {
		e.PutUint64(r.Time)
		e.PutUint16(r.ExitCode)
	}
}

// Decoder consumes a frame payload sequentially, refusing to read past its
// end or past the configured ceilings.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(payload []byte) *Decoder { return &Decoder{buf: payload} }

func (d *Decoder) remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, d.remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) Uint16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) Uint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *Decoder) String() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	if n > MaxString {
		return "", fmt.Errorf("%w: string length %d exceeds max %d", ErrMalformed, n, MaxString)
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) Commandline() ([]string, error) {
	argc, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if argc > MaxArgs {
		return nil, fmt.Errorf("%w: argc %d exceeds max %d", ErrMalformed, argc, MaxArgs)
	}
	if argc == 0 {
		return nil, fmt.Errorf("%w: commandline must have at least one argument", ErrMalformed)
	}
	argv := make([]string, argc)
	for i := range argv {
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		argv[i] = s
	}
	return argv, nil
}

func (d *Decoder) Timing() (protocol.Timing, error) {
	minutes, err := d.Uint64()
	if err != nil {
		return protocol.Timing{}, err
	}
	hours, err := d.Uint32()
	if err != nil {
		return protocol.Timing{}, err
	}
	dow, err := d.take(1)
	if err != nil {
		return protocol.Timing{}, err
	}
	return protocol.Timing{Minutes: minutes, Hours: hours, DaysOfWeek: dow[0]}, nil
}

// Task decodes a Task. includeID mirrors Encoder.PutTask.
func (d *Decoder) Task(includeID bool) (protocol.Task, error) {
	var t protocol.Task
	if includeID {
		id, err := d.Uint64()
		if err != nil {
			return t, err
		}
		t.ID = id
	}
	timing, err := d.Timing()
	if err != nil {
		return t, err
	}
	t.Timing = timing
	argv, err := d.Commandline()
	if err != nil {
		return t, err
	}
	t.Commandline = argv
	return t, nil
}

func (d *Decoder) TaskArray() ([]protocol.Task, error) {
	count, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	tasks := make([]protocol.Task, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := d.Task(true)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (d *Decoder) RunArray() ([]protocol.Run, error) {
	count, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	runs := make([]protocol.Run, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		ec, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		runs = append(runs, protocol.Run{Time: t, ExitCode: ec})
	}
	return runs, nil
}

// Done reports whether every byte of the payload has been consumed. Callers
// use it to reject trailing garbage after a well-formed frame.
func (d *Decoder) Done() bool { return d.remaining() == 0 }

// ReadFrame reads one length-prefixed frame from r: a u32 total_length
// followed by that many payload bytes. This "leading u32 total_length"
// framing sidesteps FIFO atomic-write limits; both saturnd and cassini use
// it in both directions.
func ReadFrame(r io.Reader, maxFrame int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: eof reading frame length: %v", ErrMalformed, err)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > maxFrame || n > MaxFrame {
		return nil, fmt.Errorf("%w: frame length %d exceeds max %d", ErrMalformed, n, maxFrame)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: eof mid-frame: %v", ErrMalformed, err)
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload as one length-prefixed frame in a single Write
// call, keeping the frame atomic from the reader's point of view.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
