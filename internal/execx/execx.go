package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Runner abstracts command execution so the core node supervisor can be
// unit-tested without spawning processes.
type Runner interface {
	Output(name string, args ...string) (string, error)
	Start(name string, args ...string) (Process, error)
}

// Process is a started long-running command.
type Process interface {
	Pid() int
	// Done is closed once the process exits.
	Done() <-chan struct{}
	// Stop asks the process to exit and kills it after the grace period.
	Stop(ctx context.Context) error
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewOSRunner(stdout, stderr io.Writer) *OSRunner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &OSRunner{Stdout: stdout, Stderr: stderr}
}

func (r *OSRunner) Output(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(buf.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %s", err.Error(), msg)
		}
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func (r *OSRunner) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	once sync.Once
}

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Done() <-chan struct{} {
	return p.done
}

func (p *osProcess) Stop(ctx context.Context) error {
	var sigErr error
	p.once.Do(func() {
		sigErr = p.cmd.Process.Signal(syscall.SIGTERM)
	})
	if sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
		return sigErr
	}

	grace := time.NewTimer(5 * time.Second)
	defer grace.Stop()
	select {
	case <-p.done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.done
	return nil
}
