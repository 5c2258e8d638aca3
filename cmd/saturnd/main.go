// Command saturnd is the periodic-task daemon: it owns the task registry and
// the per-task workers, and answers requests from cassini over the
// request/reply FIFO pair.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"danga.com/saturnd/internal/clock"
	"danga.com/saturnd/internal/config"
	"danga.com/saturnd/internal/dispatch"
	"danga.com/saturnd/internal/logbuf"
	"danga.com/saturnd/internal/registry"
	"danga.com/saturnd/internal/taskmirror"
	"danga.com/saturnd/internal/transport"
	"danga.com/saturnd/internal/watchdog"
	"danga.com/saturnd/internal/webui"
	"danga.com/saturnd/internal/worker"
)

const defaultPipesDirSuffix = "/saturnd"

func defaultPipesDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + defaultPipesDirSuffix
	}
	return os.TempDir() + defaultPipesDirSuffix
}

type options struct {
	pipesDir      string
	tasksDir      string
	debugHTTPAddr string
	configPath    string
	daemonize     bool
	reexeced      bool
}

func main() {
	var opt options

	root := &cobra.Command{
		Use:   "saturnd",
		Short: "saturnd runs scheduled tasks and answers cassini over a pair of named pipes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&opt.pipesDir, "pipes-dir", "p", "", "look for the pipes (or create them if not existing) in PIPES_DIR (default: "+defaultPipesDir()+")")
	root.Flags().StringVar(&opt.tasksDir, "tasks-dir", "", "optional: write one human-readable debug snapshot file per task under this directory")
	root.Flags().StringVar(&opt.debugHTTPAddr, "debug-http", "", "optional: serve a localhost debug admin page on this address (e.g. 127.0.0.1:4762)")
	root.Flags().StringVar(&opt.configPath, "config", "", "optional YAML startup config file; CLI flags take precedence")
	root.Flags().BoolVar(&opt.daemonize, "daemonize", false, "detach into the background after startup checks pass")
	root.Flags().BoolVar(&opt.reexeced, "reexeced-daemon-child", false)
	_ = root.Flags().MarkHidden("reexeced-daemon-child")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opt options) error {
	ringBytes := 64 << 10

	if opt.configPath != "" {
		obj, err := config.Load(opt.configPath)
		if err != nil {
			return err
		}
		startup := &config.Startup{
			PipesDir:      opt.pipesDir,
			TasksDir:      opt.tasksDir,
			DebugHTTPAddr: opt.debugHTTPAddr,
		}
		if err := config.Apply(obj, startup); err != nil {
			return err
		}
		opt.pipesDir = startup.PipesDir
		opt.tasksDir = startup.TasksDir
		opt.debugHTTPAddr = startup.DebugHTTPAddr
		ringBytes = startup.LogRingBytes
	}

	if opt.pipesDir == "" {
		opt.pipesDir = defaultPipesDir()
	}

	ring := logbuf.NewRing(ringBytes)
	logger := log.New(io.MultiWriter(os.Stderr, ring), "", log.Lmicroseconds|log.Lshortfile)

	t := transport.New(opt.pipesDir)
	if err := transport.EnsurePipes(t); err != nil {
		logger.Printf("%v", err)
		return err
	}

	if opt.daemonize && !opt.reexeced {
		return daemonizeAndExit(logger)
	}

	logger.Printf("daemon started.")

	reg := registry.New(clock.Real{}, logger, worker.DefaultSpawner)
	mirror := taskmirror.New(opt.tasksDir)
	d := dispatch.New(t, reg, logger, mirror)

	wd, err := watchdog.Start(t, logger)
	if err != nil {
		logger.Printf("watchdog: %v (continuing without it)", err)
	} else {
		defer wd.Stop()
	}

	if opt.debugHTTPAddr != "" {
		ln, err := webui.Listen(opt.debugHTTPAddr)
		if err != nil {
			logger.Printf("debug http: %v (continuing without it)", err)
		} else {
			srv := webui.New(reg, ring)
			go func() {
				if err := srv.Serve(ln); err != nil {
					logger.Printf("debug http server exiting: %v", err)
				}
			}()
			logger.Printf("debug http listening on %s", opt.debugHTTPAddr)
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigc
		logger.Printf("received %v, shutting down...", sig)
		reg.StopAll()
		os.Exit(0)
	}()

	if err := d.Run(); err != nil {
		logger.Printf("dispatcher exiting: %v", err)
		return err
	}
	logger.Printf("daemon shutting down...")
	return nil
}

// daemonizeAndExit re-execs the current binary with --reexeced-daemon-child,
// detached via Setsid, then exits the parent. This is the Go-idiomatic
// stand-in for the original C daemon's double fork() — the Go runtime's
// goroutine scheduler and its own signal/thread housekeeping make a bare
// fork() after process start unsafe, so re-exec is the accepted substitute
// (see DESIGN.md).
func daemonizeAndExit(logger *log.Logger) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	args := append(os.Args[1:], "--reexeced-daemon-child")
	cmd := exec.Command(self, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	defer devnull.Close()
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	logger.Printf("daemonized as pid %d", cmd.Process.Pid)
	return nil
}
