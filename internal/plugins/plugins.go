// Package plugins runs external executables and collects their output as section bodies.
//
// Two directories use it: plugins, whose scripts print their own <<<name>>> headers and
// are wrapped in a section with a hidden header, and local checks, whose output goes
// under the <<<local>>> header.
package plugins

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ErrTimeout is returned by Run when an executable does not finish in time.
var ErrTimeout = errors.New("plugin timed out")

// waitDelay bounds how long Run waits for output pipes after the process was killed.
const waitDelay = time.Second

// Runner executes every executable in Dir. It implements section.Producer.
type Runner struct {
	Dir     string
	Timeout time.Duration
	// TTY starts executables on a pseudo terminal. stdout and stderr are merged.
	TTY bool
}

// Executables returns the executable files in Dir sorted by name. Hidden files and
// directories are ignored. A missing directory has no executables.
func (r *Runner) Executables() ([]string, error) {
	if r.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		paths = append(paths, filepath.Join(r.Dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Produce runs all executables in order and writes their output. A failing executable is
// logged and left out; only an unreadable directory fails the section.
func (r *Runner) Produce(w io.Writer) error {
	paths, err := r.Executables()
	if err != nil {
		return err
	}

	for _, path := range paths {
		out, err := r.Run(context.Background(), path)
		if err != nil {
			slog.Warn("Plugin failed", "path", path, "error", err)
			continue
		}
		if len(out) == 0 {
			continue
		}
		if out[len(out)-1] != '\n' {
			out = append(out, '\n')
		}
		if _, err := w.Write(out); err != nil {
			return err
		}
	}
	return nil
}

// Run executes one plugin and returns its output.
func (r *Runner) Run(ctx context.Context, path string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = filepath.Dir(path)
	cmd.WaitDelay = waitDelay
	// Kill the whole process group so children of a script do not outlive it.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var out []byte
	var err error
	if r.TTY {
		out, err = runOnTTY(cmd)
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		out, err = cmd.Output()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s: %w after %s", filepath.Base(path), ErrTimeout, r.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// runOnTTY runs cmd with a pseudo terminal as stdin, stdout and stderr. Some scripts only
// flush their output per line when attached to a terminal.
func runOnTTY(cmd *exec.Cmd) ([]byte, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start command with pty: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	out, readErr := io.ReadAll(ptmx)
	// Linux reports EIO on the master side once the last slave fd is closed.
	if readErr != nil && !errors.Is(readErr, syscall.EIO) {
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to read from pty: %w", readErr)
	}

	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return bytes.ReplaceAll(out, []byte("\r\n"), []byte("\n")), nil
}
