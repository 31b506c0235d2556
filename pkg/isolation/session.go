package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/moby/sys/reexec"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/hubcap/pkg/inspector"
	"github.com/platinummonkey/hubcap/pkg/observability"
)

// Defaults applied to zero Options fields.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultTeardownTimeout = 5 * time.Second

	readGrace = time.Second
)

var (
	// ErrClosed is returned by Inspect after the session was closed.
	ErrClosed = errors.New("isolation session closed")
	// ErrTeardownTimeout is returned by Close when workers did not exit in time.
	ErrTeardownTimeout = errors.New("isolation session teardown timed out")
)

// Failure reasons, also used as metric labels.
const (
	ReasonTimeout  = "timeout"
	ReasonExit     = "exit"
	ReasonProtocol = "protocol"
	ReasonStart    = "start"
)

// InspectError describes a module that could not be inspected.
type InspectError struct {
	Path   string
	Reason string
	Err    error
}

func (e *InspectError) Error() string {
	return fmt.Sprintf("inspect %s: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *InspectError) Unwrap() error { return e.Err }

// Options configures a Session.
type Options struct {
	// Timeout bounds the inspection of a single module.
	Timeout time.Duration
	// TeardownTimeout bounds Close.
	TeardownTimeout time.Duration
	// Parallelism is the number of concurrent workers; defaults to the number of CPUs.
	Parallelism int
	// Stderr receives the output of the workers; defaults to os.Stderr.
	Stderr io.Writer

	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
}

// Result is the outcome of inspecting one module file.
type Result struct {
	Path   string
	Report inspector.Report
	Err    error
}

// Session is a disposable set of worker processes. It is used for one inspection pass and
// then closed; Close kills whatever is still running.
type Session struct {
	opts Options
	log  logrus.FieldLogger

	mu      sync.Mutex
	closed  bool
	running map[*exec.Cmd]struct{}
	wg      sync.WaitGroup
}

// NewSession creates a session.
func NewSession(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = DefaultTeardownTimeout
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Session{
		opts:    opts,
		log:     observability.OrDefault(opts.Logger),
		running: make(map[*exec.Cmd]struct{}),
	}
}

// InspectAll inspects every path, at most Parallelism at a time. Results keep the order of
// paths; a failing module does not affect the others.
func (s *Session) InspectAll(ctx context.Context, paths []string) []Result {
	results := make([]Result, len(paths))

	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i, path := range paths {
		g.Go(func() error {
			report, err := s.Inspect(ctx, path)
			results[i] = Result{Path: path, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Inspect runs one worker for the module file at path and returns its report.
func (s *Session) Inspect(ctx context.Context, path string) (report inspector.Report, err error) {
	ctx, span := otel.Tracer(observability.TracerName).Start(ctx, "isolation.Inspect")
	span.SetAttributes(attribute.String("hubcap.path", path))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var ie *InspectError
			if errors.As(err, &ie) {
				s.opts.Metrics.ObserveModuleFailure(ie.Reason)
			}
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	r, w, err := os.Pipe()
	if err != nil {
		return report, &InspectError{Path: path, Reason: ReasonStart, Err: err}
	}
	defer r.Close()

	cmd := reexec.Command(workerName, path)
	cmd.Stdout = s.opts.Stderr
	cmd.Stderr = s.opts.Stderr
	cmd.ExtraFiles = []*os.File{w}
	cmd.WaitDelay = readGrace
	setProcessGroup(cmd)

	err = s.start(cmd)
	w.Close()
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return report, err
		}
		return report, &InspectError{Path: path, Reason: ReasonStart, Err: err}
	}
	defer s.finish(cmd)

	type readResult struct {
		data []byte
		err  error
	}
	readCh := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(r)
		readCh <- readResult{data: data, err: err}
	}()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		killProcess(cmd)
		<-waitCh
		return report, &InspectError{Path: path, Reason: ReasonTimeout, Err: ctx.Err()}
	}

	// The worker is gone; anything it spawned may still hold the write end.
	var res readResult
	select {
	case res = <-readCh:
	case <-time.After(readGrace):
		killProcess(cmd)
		r.Close()
		<-readCh
		res = readResult{err: errors.New("report stream left open")}
	}

	if waitErr != nil {
		return report, &InspectError{Path: path, Reason: ReasonExit, Err: waitErr}
	}
	if res.err != nil {
		return report, &InspectError{Path: path, Reason: ReasonProtocol, Err: res.err}
	}
	if len(bytes.TrimSpace(res.data)) == 0 {
		return report, &InspectError{Path: path, Reason: ReasonProtocol, Err: errors.New("worker produced no report")}
	}
	if err := json.Unmarshal(res.data, &report); err != nil {
		return inspector.Report{}, &InspectError{Path: path, Reason: ReasonProtocol, Err: fmt.Errorf("decode report: %w", err)}
	}

	s.log.WithFields(logrus.Fields{
		"path":    path,
		"records": len(report.Records),
		"skipped": len(report.Skipped),
	}).Debug("Inspected module")
	return report, nil
}

// Close kills every running worker and waits for them to be reaped, at most TeardownTimeout.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for cmd := range s.running {
		killProcess(cmd)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.opts.TeardownTimeout):
		s.log.WithField("timeout", s.opts.TeardownTimeout).Warn("Isolation session teardown timed out")
		return ErrTeardownTimeout
	}
}

func (s *Session) start(cmd *exec.Cmd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	s.running[cmd] = struct{}{}
	s.wg.Add(1)
	return nil
}

func (s *Session) finish(cmd *exec.Cmd) {
	s.mu.Lock()
	delete(s.running, cmd)
	s.mu.Unlock()
	s.wg.Done()
}
