package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeEngine = `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "V2Ray 5.0.0 (fake)"
  exit 0
fi
echo "config: $2"
echo "ready" >&2
exec sleep 60
`

const politeEngine = `#!/bin/sh
trap 'echo "shutting down"; exit 0' INT
echo "ready"
while :; do sleep 0.1; done
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

// collect polls until want shows up in the accumulated output.
func collect(t *testing.T, e Engine, want string) string {
	t.Helper()
	var all strings.Builder
	require.Eventually(t, func() bool {
		if text, ok := e.PollOutput(); ok {
			all.WriteString(text)
			all.WriteByte('\n')
		}
		return strings.Contains(all.String(), want)
	}, 5*time.Second, 20*time.Millisecond)
	return all.String()
}

type countingObserver struct {
	mu      sync.Mutex
	started int
	stopped int
	failed  int
	lines   int
}

func (c *countingObserver) EngineStarted(string) { c.mu.Lock(); c.started++; c.mu.Unlock() }
func (c *countingObserver) EngineStopped(string) { c.mu.Lock(); c.stopped++; c.mu.Unlock() }
func (c *countingObserver) EngineFailed(string)  { c.mu.Lock(); c.failed++; c.mu.Unlock() }
func (c *countingObserver) EngineOutput(_ string, n int) {
	c.mu.Lock()
	c.lines += n
	c.mu.Unlock()
}

func TestStopIdleIsNoop(t *testing.T) {
	s := NewSupervisor(Options{Binary: "/nonexistent"})
	assert.NoError(t, s.Stop())
	assert.False(t, s.Running())
	assert.NoError(t, s.Stop())
	assert.False(t, s.Running())

	_, ok := s.PollOutput()
	assert.False(t, ok)
}

func TestStartPollStop(t *testing.T) {
	obs := &countingObserver{}
	s := NewSupervisor(Options{
		Binary:     writeScript(t, fakeEngine),
		ConfigPath: filepath.Join(t.TempDir(), "connection.json"),
		Observer:   obs,
	})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)

	out := collect(t, s, "ready")
	assert.Contains(t, out, "connection.json")

	_, ok := s.PollOutput()
	assert.False(t, ok, "output already drained")

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	_, ok = s.PollOutput()
	assert.False(t, ok)
	require.NoError(t, s.Stop())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 1, obs.stopped)
	assert.GreaterOrEqual(t, obs.lines, 2)
}

func TestRestartLeavesRunning(t *testing.T) {
	s := NewSupervisor(Options{Binary: writeScript(t, fakeEngine), ConfigPath: "connection.json"})
	ctx := context.Background()

	require.NoError(t, s.Restart(ctx))
	assert.True(t, s.Running())
	require.NoError(t, s.Restart(ctx))
	assert.True(t, s.Running())
	require.NoError(t, s.Stop())
}

func TestGracefulStop(t *testing.T) {
	s := NewSupervisor(Options{
		Binary:     writeScript(t, politeEngine),
		ConfigPath: "connection.json",
		StopGrace:  3 * time.Second,
	})
	require.NoError(t, s.Start(context.Background()))
	collect(t, s, "ready")

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.False(t, s.Running())
}

func TestStopKillsWedgedEngine(t *testing.T) {
	wedged := "#!/bin/sh\ntrap '' INT\necho ready\nwhile :; do sleep 0.1; done\n"
	s := NewSupervisor(Options{
		Binary:     writeScript(t, wedged),
		ConfigPath: "connection.json",
		StopGrace:  200 * time.Millisecond,
	})
	require.NoError(t, s.Start(context.Background()))
	collect(t, s, "ready")

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
}

func TestExitedEngineOutputStaysReadable(t *testing.T) {
	s := NewSupervisor(Options{
		Binary:     writeScript(t, "#!/bin/sh\necho boom\nexit 3\n"),
		ConfigPath: "connection.json",
	})
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return !s.Running() }, 5*time.Second, 20*time.Millisecond)

	collect(t, s, "boom")
	require.NoError(t, s.Stop())
}

func TestSpawnError(t *testing.T) {
	obs := &countingObserver{}
	s := NewSupervisor(Options{Binary: filepath.Join(t.TempDir(), "missing"), Observer: obs})
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSpawn)
	assert.False(t, s.Running())
	assert.Equal(t, 1, obs.failed)

	err = NewSupervisor(Options{}).Start(context.Background())
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestCheckVersion(t *testing.T) {
	s := NewSupervisor(Options{Binary: writeScript(t, fakeEngine)})
	v, err := s.CheckVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "V2Ray 5.0.0 (fake)", v)
	assert.False(t, s.Running())

	_, err = NewSupervisor(Options{Binary: filepath.Join(t.TempDir(), "missing")}).CheckVersion(context.Background())
	assert.ErrorIs(t, err, ErrVersionProbe)
}

func TestOutputQueueDropsOldest(t *testing.T) {
	q := newOutputQueue(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		q.push(l)
	}
	text, n := q.drain()
	assert.Equal(t, 3, n)
	assert.Equal(t, "c\nd\ne", text)
	assert.Equal(t, int64(2), q.dropped.Load())

	_, n = q.drain()
	assert.Zero(t, n)
}

func TestOutputQueuePump(t *testing.T) {
	q := newOutputQueue(0)
	q.pump(strings.NewReader("one\ntwo\r\nthree"))
	text, n := q.drain()
	assert.Equal(t, 3, n)
	assert.Equal(t, "one\ntwo\nthree", text)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{TypeV2Ray, TypeEmbedded}, r.Types())

	e, err := r.New(TypeV2Ray, Options{Binary: "v2ray"})
	require.NoError(t, err)
	assert.IsType(t, &Supervisor{}, e)

	e, err = r.New(TypeEmbedded, Options{})
	require.NoError(t, err)
	assert.IsType(t, &Embedded{}, e)

	_, err = r.New("sing-box", Options{})
	assert.ErrorIs(t, err, ErrUnknownEngine)
}
