// Package watchdog guards the pipes directory for the lifetime of the
// daemon. A startup-only opendir scan never notices a FIFO removed out from
// under a long-running process; this package uses fsnotify to watch the
// directory and recreate a pipe the moment it disappears, logging the
// event the way every other daemon subsystem logs through *log.Logger.
package watchdog

import (
	"log"

	"github.com/fsnotify/fsnotify"

	"danga.com/saturnd/internal/transport"
)

// Watchdog recreates the request/reply FIFOs if either is removed while
// saturnd is running.
type Watchdog struct {
	transport *transport.Transport
	logger    *log.Logger
	watcher   *fsnotify.Watcher
	stopc     chan struct{}
	donec     chan struct{}
}

// Start begins watching t.Dir in the background. Callers must call Stop to
// release the underlying inotify/kqueue watch.
func Start(t *transport.Transport, logger *log.Logger) (*Watchdog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(t.Dir); err != nil {
		watcher.Close()
		return nil, err
	}
	w := &Watchdog{
		transport: t,
		logger:    logger,
		watcher:   watcher,
		stopc:     make(chan struct{}),
		donec:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watchdog) loop() {
	defer close(w.donec)
	for {
		select {
		case <-w.stopc:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Name != w.transport.RequestPath && ev.Name != w.transport.ReplyPath {
				continue
			}
			w.logger.Printf("watchdog: %s disappeared (%s), recreating", ev.Name, ev.Op)
			if err := transport.Recreate(w.transport); err != nil {
				w.logger.Printf("watchdog: failed to recreate pipes: %v", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watchdog: %v", err)
		}
	}
}

// Stop tears down the watch.
func (w *Watchdog) Stop() {
	close(w.stopc)
	w.watcher.Close()
	<-w.donec
}
