package matter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rgstephens/gdo-bridge/internal/log"
)

// stopGrace is how long Stop waits for the bridge to exit after an interrupt
const stopGrace = 5 * time.Second

// Process manages the Matter.js bridge subprocess
type Process struct {
	dir  string
	name string
	args []string
	env  []string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	running bool
	exited  chan struct{}
}

// NewProcess runs the built bridge in dir with node
func NewProcess(dir string) *Process {
	return NewCommandProcess(dir, "node", "dist/index.js")
}

// NewCommandProcess runs an arbitrary command in dir
func NewCommandProcess(dir, name string, args ...string) *Process {
	return &Process{
		dir:  dir,
		name: name,
		args: args,
		env:  []string{"NODE_ENV=production"},
	}
}

// Start starts the process and forwards its output to the log
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("process already running")
	}
	if _, err := os.Stat(p.dir); os.IsNotExist(err) {
		return fmt.Errorf("bridge directory not found: %s", p.dir)
	}
	if p.name == "node" {
		if _, err := os.Stat(filepath.Join(p.dir, "node_modules")); os.IsNotExist(err) {
			log.Warn("node_modules not found, Matter bridge may not be installed")
		}
	}

	cmd := exec.CommandContext(ctx, p.name, p.args...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(), p.env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	p.cmd = cmd
	p.running = true
	p.exited = make(chan struct{})

	var pipes sync.WaitGroup
	pipes.Add(2)
	go forward(&pipes, stdout, log.Debug)
	go forward(&pipes, stderr, log.Warn)

	go func(exited chan struct{}) {
		// Wait closes the pipes, so drain them first
		pipes.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(exited)
		if err != nil {
			log.Error("Matter bridge exited with error: %v", err)
		} else {
			log.Info("Matter bridge exited")
		}
	}(p.exited)

	log.Info("Started Matter bridge process (%s)", p.name)
	return nil
}

func forward(wg *sync.WaitGroup, r io.Reader, logf func(string, ...interface{})) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logf("[matter-bridge] %s", scanner.Text())
	}
}

// Stop interrupts the process and waits for it, killing it after a grace period
func (p *Process) Stop() error {
	p.mu.Lock()
	if !p.running || p.cmd == nil || p.cmd.Process == nil {
		p.mu.Unlock()
		return nil
	}
	proc, exited := p.cmd.Process, p.exited
	p.mu.Unlock()

	if err := proc.Signal(os.Interrupt); err != nil {
		proc.Kill()
	}

	select {
	case <-exited:
	case <-time.After(stopGrace):
		log.Warn("Matter bridge did not exit, killing it")
		proc.Kill()
		<-exited
	}
	log.Info("Stopped Matter bridge process")
	return nil
}

// IsRunning returns true if the process is running
func (p *Process) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Restart restarts the process
func (p *Process) Restart(ctx context.Context) error {
	if err := p.Stop(); err != nil {
		return err
	}
	return p.Start(ctx)
}
