//go:build unix

package gate

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/ipsafe/internal/config"
	"github.com/hamed0406/ipsafe/internal/domain"
	"github.com/hamed0406/ipsafe/internal/executor"
	"github.com/hamed0406/ipsafe/internal/probe"
	"github.com/hamed0406/ipsafe/internal/repo/memory"
)

type countingSource struct {
	cfg   config.Config
	loads int
}

func (s *countingSource) Load() config.Config {
	s.loads++
	return s.cfg
}

type countingProber struct {
	calls atomic.Int32
	err   func(n int32) error
}

func (p *countingProber) Check(context.Context, probe.Target) error {
	n := p.calls.Add(1)
	if p.err == nil {
		return nil
	}
	return p.err(n)
}

type recordingNotifier struct{ titles []string }

func (r *recordingNotifier) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.TestURL = "http://127.0.0.1:9/"
	cfg.Retries = 0
	return cfg
}

func newTestGate(src ConfigSource, p probe.Checker) (*Gate, *bytes.Buffer) {
	var stdout bytes.Buffer
	return &Gate{
		Config: src,
		Prober: p,
		Executor: &executor.Executor{
			Stdout: &stdout,
			Stderr: &bytes.Buffer{},
		},
	}, &stdout
}

func TestRun_NoCommand(t *testing.T) {
	src := &countingSource{cfg: testConfig()}
	p := &countingProber{}
	g, _ := newTestGate(src, p)

	for _, args := range [][]string{nil, {}, {"  ", "\t"}} {
		_, err := g.Run(context.Background(), args)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoCommand)
		assert.Equal(t, StageInput, StageOf(err))
	}
	assert.Zero(t, src.loads, "config must not be loaded")
	assert.Zero(t, p.calls.Load(), "no network call expected")
}

func TestRun_ProbeFailureBlocksCommand(t *testing.T) {
	probeErr := &probe.StatusError{Code: 503, Message: "Service Unavailable"}
	p := &countingProber{err: func(int32) error { return probeErr }}
	store := memory.New()
	notifier := &recordingNotifier{}
	g, stdout := newTestGate(Static(testConfig()), p)
	g.Decisions = store
	g.Notifier = notifier
	g.BeforeExec = func(string, config.Config) { t.Fatal("must not reach exec") }

	_, err := g.Run(context.Background(), []string{"echo", "should-not-run"})
	require.Error(t, err)
	assert.Equal(t, StageProbe, StageOf(err))
	assert.ErrorIs(t, err, probe.ErrHTTPStatus)
	assert.Equal(t, "HTTP 503: Service Unavailable", err.Error())
	assert.Empty(t, stdout.String())

	ds, _ := store.Decisions(context.Background(), 10)
	require.Len(t, ds, 1)
	assert.Equal(t, domain.OutcomeBlocked, ds[0].Outcome())
	assert.Equal(t, "echo should-not-run", ds[0].Command)
	assert.Len(t, notifier.titles, 1)
}

func TestRun_Success(t *testing.T) {
	store := memory.New()
	g, stdout := newTestGate(Static(testConfig()), &countingProber{})
	g.Decisions = store
	var announced string
	g.BeforeExec = func(command string, _ config.Config) { announced = command }

	out, err := g.Run(context.Background(), []string{"echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, "echo hello", announced)
	assert.Equal(t, "hello", out.Stdout)
	assert.Equal(t, "hello\n", stdout.String())

	ds, _ := store.Decisions(context.Background(), 10)
	require.Len(t, ds, 1)
	assert.Equal(t, domain.OutcomeSucceeded, ds[0].Outcome())
}

func TestRun_CommandFailure(t *testing.T) {
	store := memory.New()
	notifier := &recordingNotifier{}
	g, _ := newTestGate(Static(testConfig()), &countingProber{})
	g.Decisions = store
	g.Notifier = notifier

	out, err := g.Run(context.Background(), []string{"false"})
	require.Error(t, err)
	assert.Equal(t, StageExec, StageOf(err))
	assert.ErrorIs(t, err, executor.ErrNonZeroExit)
	assert.Equal(t, "command exited with code 1", err.Error())
	assert.Equal(t, 1, out.ExitCode)
	assert.Empty(t, notifier.titles, "only blocked commands are announced")

	ds, _ := store.Decisions(context.Background(), 10)
	require.Len(t, ds, 1)
	require.NotNil(t, ds[0].ExitCode)
	assert.Equal(t, 1, *ds[0].ExitCode)
	assert.Equal(t, domain.OutcomeFailed, ds[0].Outcome())
}

func TestRun_CommandTimeoutFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.CommandTimeout = 100
	g, _ := newTestGate(Static(cfg), &countingProber{})

	_, err := g.Run(context.Background(), []string{"sleep", "5"})
	require.Error(t, err)
	assert.Equal(t, StageExec, StageOf(err))
	assert.ErrorIs(t, err, executor.ErrTimeout)
}

func TestCheck_RetriesAndReturnsLastError(t *testing.T) {
	p := &countingProber{err: func(n int32) error {
		return &probe.StatusError{Code: 500 + int(n), Message: "fail"}
	}}
	g, _ := newTestGate(nil, p)
	cfg := testConfig()
	cfg.Retries = 2

	err := g.Check(context.Background(), cfg)
	require.Error(t, err)
	assert.EqualValues(t, 3, p.calls.Load())

	var se *probe.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.Code)
}

func TestCheck_InvalidConfigSkipsNetwork(t *testing.T) {
	p := &countingProber{}
	g, _ := newTestGate(nil, p)
	cfg := testConfig()
	cfg.TestURL = ""

	err := g.Check(context.Background(), cfg)
	assert.ErrorIs(t, err, probe.ErrInvalidConfig)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Zero(t, p.calls.Load())
}

type countingResolver struct{ lookups atomic.Int32 }

func (r *countingResolver) LookupIP(context.Context, string, string) ([]net.IP, error) {
	r.lookups.Add(1)
	return nil, &net.DNSError{Err: "no such host", IsNotFound: true}
}

func (r *countingResolver) LookupCNAME(context.Context, string) (string, error) {
	return "", &net.DNSError{Err: "no such host", IsNotFound: true}
}

func (r *countingResolver) LookupNS(context.Context, string) ([]*net.NS, error) {
	return nil, &net.DNSError{Err: "no such host", IsNotFound: true}
}

func TestCheck_DNSDiagnosticsOnlyWhenEnabled(t *testing.T) {
	p := &countingProber{err: func(int32) error { return probe.ErrTimeout }}
	res := &countingResolver{}
	g, _ := newTestGate(nil, p)
	g.Resolver = res
	cfg := testConfig()
	cfg.TestURL = "http://gate.example.test/"

	require.ErrorIs(t, g.Check(context.Background(), cfg), probe.ErrTimeout)
	assert.Zero(t, res.lookups.Load(), "lookups must not run unless enabled")

	g.Diagnose = true
	require.ErrorIs(t, g.Check(context.Background(), cfg), probe.ErrTimeout)
	assert.NotZero(t, res.lookups.Load())
}

func TestCheckNetworkSafe_AgainstServer(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("corp intranet OK"))
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	g := New(nil, nil)
	g.RetryDelay = 0

	cfg := testConfig()
	cfg.TestURL = healthy.URL
	cfg.CheckContent = true
	cfg.SearchText = "INTRANET ok"
	assert.True(t, g.CheckNetworkSafe(context.Background(), cfg))

	cfg.SearchText = "public wifi"
	assert.False(t, g.CheckNetworkSafe(context.Background(), cfg))

	cfg.TestURL = broken.URL
	cfg.CheckContent = false
	assert.False(t, g.CheckNetworkSafe(context.Background(), cfg))
}

func TestExecuteIfSafe(t *testing.T) {
	p := &countingProber{}
	g, _ := newTestGate(nil, p)

	res := g.ExecuteIfSafe(context.Background(), "echo ok", testConfig())
	require.True(t, res.Success)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, "ok", res.Outcome.Stdout)
	assert.NoError(t, res.Err)

	res = g.ExecuteIfSafe(context.Background(), "false", testConfig())
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, executor.ErrNonZeroExit)

	p.err = func(int32) error { return probe.ErrTimeout }
	res = g.ExecuteIfSafe(context.Background(), "echo never", testConfig())
	assert.False(t, res.Success)
	assert.Nil(t, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrBlocked)
	assert.Equal(t, StageProbe, StageOf(res.Err))
}

func TestTarget_CopiesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Headers = map[string]string{"X-Probe": "1"}
	cfg.SearchType = "regex"
	cfg.ResponseType = "json"

	tgt := Target(cfg)
	assert.Equal(t, cfg.TestURL, tgt.URL)
	assert.Equal(t, cfg.TimeoutDuration(), tgt.Timeout)
	assert.Equal(t, probe.SearchRegex, tgt.SearchType)
	assert.Equal(t, probe.ResponseJSON, tgt.ResponseType)

	tgt.Headers["X-Probe"] = "changed"
	assert.Equal(t, "1", cfg.Headers["X-Probe"])
}

func TestStaticReturnsCopies(t *testing.T) {
	src := Static(testConfig())
	a := src.Load()
	a.Headers["X"] = "y"
	assert.Empty(t, src.Load().Headers)
}
