package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"v2neko/internal/logger"

	"go.uber.org/zap"
)

// Supervisor runs the engine as an external process: `<binary> -config <path>`.
type Supervisor struct {
	binary     string
	configPath string
	grace      time.Duration
	bufferSize int
	obs        Observer
	log        *zap.SugaredLogger

	cmd    *exec.Cmd
	exitCh chan struct{}
	output *outputQueue
}

func NewSupervisor(opts Options) *Supervisor {
	return &Supervisor{
		binary:     opts.Binary,
		configPath: opts.ConfigPath,
		grace:      opts.StopGrace,
		bufferSize: opts.OutputBuffer,
		obs:        opts.observer(),
		log:        logger.Named("engine"),
	}
}

// Start spawns the engine. Stdout and stderr are merged into one line queue
// that PollOutput drains.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.Running() {
		return ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.binary == "" {
		s.obs.EngineFailed(TypeV2Ray)
		return fmt.Errorf("%w: binary path is empty", ErrSpawn)
	}

	configPath, err := filepath.Abs(s.configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	args := []string{"-config", configPath}
	cmd := exec.Command(s.binary, args...)
	applyProcessAttributes(cmd)
	// bounds Wait when a grandchild keeps the output pipe open
	cmd.WaitDelay = time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	s.log.Debugf("launch: %s", formatCommand(s.binary, args))
	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		s.obs.EngineFailed(TypeV2Ray)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	output := newOutputQueue(s.bufferSize)
	exitCh := make(chan struct{})
	go output.pump(pr)
	go func() {
		err := cmd.Wait()
		pw.Close()
		s.finishProcess(cmd, err)
		close(exitCh)
	}()

	s.cmd = cmd
	s.exitCh = exitCh
	s.output = output
	s.obs.EngineStarted(TypeV2Ray)
	s.log.Infof("Engine started (pid %d)", cmd.Process.Pid)
	return nil
}

func (s *Supervisor) finishProcess(cmd *exec.Cmd, err error) {
	if err == nil {
		s.log.Infof("Engine exited (pid %d)", cmd.Process.Pid)
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		s.log.Infof("Engine exited (pid %d): %v", cmd.Process.Pid, exitErr)
		return
	}
	s.log.Warnf("Engine wait failed: %v", err)
}

// Stop interrupts the engine, waits for the grace period and then kills it.
// With no grace period the engine is killed right away.
func (s *Supervisor) Stop() error {
	if s.cmd == nil {
		return nil
	}
	cmd, exitCh := s.cmd, s.exitCh
	s.cmd, s.exitCh, s.output = nil, nil, nil

	select {
	case <-exitCh:
		s.obs.EngineStopped(TypeV2Ray)
		return nil
	default:
	}

	if s.grace > 0 {
		if err := sendInterrupt(cmd); err != nil {
			s.log.Debugf("send interrupt failed: %v", err)
		}
		select {
		case <-exitCh:
			s.obs.EngineStopped(TypeV2Ray)
			return nil
		case <-time.After(s.grace):
			s.log.Infof("Engine did not exit within %s, killing", s.grace)
		}
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill engine: %w", err)
	}
	<-exitCh
	s.obs.EngineStopped(TypeV2Ray)
	return nil
}

func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(ctx)
}

// CheckVersion runs `<binary> -version` and returns its trimmed output.
func (s *Supervisor) CheckVersion(ctx context.Context) (string, error) {
	if s.binary == "" {
		return "", fmt.Errorf("%w: binary path is empty", ErrVersionProbe)
	}
	cmd := exec.CommandContext(ctx, s.binary, "-version")
	applyProcessAttributes(cmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVersionProbe, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// PollOutput returns output accumulated since the last call. Output of an
// engine that exited by itself stays readable until the next Stop or Start.
func (s *Supervisor) PollOutput() (string, bool) {
	if s.output == nil {
		return "", false
	}
	text, n := s.output.drain()
	if n == 0 {
		return "", false
	}
	s.obs.EngineOutput(TypeV2Ray, n)
	return text, true
}

// Running reports whether a spawned process is still alive.
func (s *Supervisor) Running() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exitCh:
		return false
	default:
		return true
	}
}

func formatCommand(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(binary))
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "\"\""
	}
	if strings.IndexAny(arg, " \t\"") == -1 {
		return arg
	}
	return "\"" + strings.ReplaceAll(arg, "\"", "\\\"") + "\""
}
