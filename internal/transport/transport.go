// Package transport implements the pipe transport: creating the two named
// pipes, the "already running" startup self-test, and the
// one-request-per-open discipline around them.
package transport

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"danga.com/saturnd/internal/protocol"
	"danga.com/saturnd/internal/wire"
)

func wireNoopRequest() wire.Request {
	return wire.Request{Opcode: protocol.OpNoop}
}

const (
	RequestPipeName = "saturnd-request-pipe"
	ReplyPipeName   = "saturnd-reply-pipe"

	pipeMode = 0666
)

// Transport owns the paths of the request/reply FIFOs and the one-frame-at-
// a-time open/close discipline around them.
type Transport struct {
	Dir         string
	RequestPath string
	ReplyPath   string
}

// New resolves the pipe paths under dir.
func New(dir string) *Transport {
	return &Transport{
		Dir:         dir,
		RequestPath: filepath.Join(dir, RequestPipeName),
		ReplyPath:   filepath.Join(dir, ReplyPipeName),
	}
}

// EnsureDir recursively creates dir if it doesn't already exist, mirroring
// a C daemon's mkdir_recursively call ahead of mkfifo.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("creating pipes directory %q: %w", dir, err)
	}
	return nil
}

// mkfifoIfAbsent creates a FIFO at path if nothing is there yet. An existing
// non-FIFO file is left untouched and reported as an error — that's a
// misconfigured pipes directory, not something the daemon should paper over.
func mkfifoIfAbsent(path string) error {
	fi, err := os.Lstat(path)
	if err == nil {
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%q exists and is not a named pipe", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	if err := unix.Mkfifo(path, pipeMode); err != nil {
		return fmt.Errorf("mkfifo %q: %w", path, err)
	}
	return nil
}

// ErrAlreadyRunning is returned by EnsurePipes when another daemon process is
// already reading the request pipe.
var ErrAlreadyRunning = fmt.Errorf("daemon is already running or pipes are being used by another process")

// EnsurePipes runs the startup sequence: create the pipes directory and
// both FIFOs if absent, then — if the request FIFO already existed — probe
// it with a non-blocking write-open. Success there means some other process
// already has it open for reading, i.e. a daemon is already running; the
// probe then writes a NOOP frame (opcode 0) so that reader's open(2)
// unblocks and it can loop around and close cleanly.
func EnsurePipes(t *Transport) error {
	if err := EnsureDir(t.Dir); err != nil {
		return err
	}

	_, statErr := os.Lstat(t.RequestPath)
	requestExisted := statErr == nil

	if requestExisted {
		fd, err := unix.Open(t.RequestPath, unix.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			// Someone is already reading the request pipe: wake them with a
			// NOOP so their blocking open(2)/read returns, then bail out.
			f := os.NewFile(uintptr(fd), t.RequestPath)
			req, encErr := wire.EncodeRequest(wireNoopRequest())
			if encErr == nil {
				_ = wire.WriteFrame(f, req)
			}
			_ = f.Close()
			return ErrAlreadyRunning
		}
	} else if err := mkfifoIfAbsent(t.RequestPath); err != nil {
		return err
	}

	if err := mkfifoIfAbsent(t.ReplyPath); err != nil {
		return err
	}
	return nil
}

// OpenRequest opens the request FIFO for reading. This blocks until a
// client opens it for writing.
func (t *Transport) OpenRequest() (*os.File, error) {
	f, err := os.OpenFile(t.RequestPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening request pipe: %w", err)
	}
	return f, nil
}

// OpenReply opens the reply FIFO for writing. This blocks until the client
// opens it for reading.
func (t *Transport) OpenReply() (*os.File, error) {
	f, err := os.OpenFile(t.ReplyPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening reply pipe: %w", err)
	}
	return f, nil
}

// Recreate creates whichever of the two FIFOs is missing.
// Used by internal/watchdog when a pipe disappears out from under a running
// daemon.
func Recreate(t *Transport) error {
	if err := mkfifoIfAbsent(t.RequestPath); err != nil {
		return err
	}
	if err := mkfifoIfAbsent(t.ReplyPath); err != nil {
		return err
	}
	return nil
}
