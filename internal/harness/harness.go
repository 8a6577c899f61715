package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/roach88/cardfile/internal/docstore"
	"github.com/roach88/cardfile/internal/index"
	"github.com/roach88/cardfile/internal/lock"
	"github.com/roach88/cardfile/internal/repository"
	"github.com/roach88/cardfile/internal/schema"
	"github.com/roach88/cardfile/internal/sequence"
	"github.com/roach88/cardfile/internal/storeerr"
	"github.com/roach88/cardfile/internal/testutil"
)

// harnessRetryInterval keeps lock polling fast so timeout scenarios finish
// quickly.
const harnessRetryInterval = 5 * time.Millisecond

// Harness owns one scenario's data directory and the stack built over it.
type Harness struct {
	dir     string
	docs    *docstore.Store
	ids     *sequence.Allocator
	locker  lock.Locker
	held    lock.Unlocker
	idx     *index.Index
	repo    *repository.Repository
	steps   *testutil.DeterministicClock
	clock   *testutil.DeterministicClock
	logger  *slog.Logger
	journal string
}

// Run executes a scenario in a fresh temporary directory and returns the
// result. The directory is removed afterwards.
//
// Execution flow:
// 1. Build allocator, store, journal and optional index under the directory
// 2. Execute steps, recording one trace event each
// 3. Evaluate assertions against the trace and the directory
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "cardfile-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	return RunIn(dir, scenario)
}

// RunIn executes a scenario using dir as the data directory. dir should be
// empty; it is left in place for inspection.
func RunIn(dir string, scenario *Scenario) (*Result, error) {
	h, err := newHarness(dir, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	ctx := context.Background()
	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	for _, msg := range h.evaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(dir string, s *Scenario) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mode := lock.ModeCreate
	if s.LockMode != "" {
		m, err := lock.ParseMode(s.LockMode)
		if err != nil {
			return nil, err
		}
		mode = m
	}
	timeout := lock.DefaultTimeout
	if s.LockTimeout != "" {
		d, err := time.ParseDuration(s.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("lock_timeout: %w", err)
		}
		timeout = d
	}

	locker, err := lock.New(filepath.Join(dir, "counter.lock"), lock.Options{
		Mode:          mode,
		Timeout:       timeout,
		RetryInterval: harnessRetryInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}

	counterPath := filepath.Join(dir, "counter.txt")
	if s.Counter != nil {
		if err := os.WriteFile(counterPath, []byte(strconv.FormatInt(*s.Counter, 10)+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to seed counter: %w", err)
		}
	}

	validate := schema.New
	if s.Strict {
		validate = schema.NewStrict
	}
	v, err := validate()
	if err != nil {
		return nil, fmt.Errorf("failed to build validator: %w", err)
	}

	journalPath := filepath.Join(dir, "logs", "errors.log")
	journal, err := docstore.OpenJournal(journalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	docs, err := docstore.Open(filepath.Join(dir, "cards"), v,
		docstore.WithJournal(journal), docstore.WithLogger(logger))
	if err != nil {
		journal.Close()
		return nil, fmt.Errorf("failed to open card store: %w", err)
	}

	h := &Harness{
		dir:     dir,
		docs:    docs,
		ids:     sequence.New(counterPath, locker, sequence.WithLogger(logger)),
		locker:  locker,
		steps:   testutil.NewDeterministicClock(),
		logger:  logger,
		journal: journalPath,
	}

	h.clock = testutil.NewDeterministicClock()
	opts := []repository.Option{
		repository.WithClock(h.clock.Now),
		repository.WithLogger(logger),
	}
	if s.Index {
		idx, err := index.Open(filepath.Join(dir, "index.db"))
		if err != nil {
			docs.Close()
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
		h.idx = idx
		opts = append(opts, repository.WithIndex(idx))
	}
	h.repo = repository.New(docs, h.ids, opts...)
	return h, nil
}

func (h *Harness) close() {
	if h.held != nil {
		h.held.Unlock()
	}
	h.idx.Close()
	h.docs.Close()
}

// executeSteps runs steps in order. Operation failures become outcomes in
// the trace; malformed step arguments abort the run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		seq := h.steps.Next()

		out, err := h.dispatch(ctx, step)
		var ae *argError
		if errors.As(err, &ae) {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		outcome := outcomeOf(err)
		if err != nil {
			out = nil
		}
		result.AddTrace(seq, step.Op, step.Args, outcome, out)

		h.logger.Info("step completed", "step", i, "op", step.Op, "outcome", outcome, "error", err)

		if step.Expect == nil {
			continue
		}
		if outcome != step.Expect.Outcome {
			msg := fmt.Sprintf("step %d (%s): expected outcome %s, got %s", i, step.Op, step.Expect.Outcome, outcome)
			if err != nil {
				msg += fmt.Sprintf(" (%v)", err)
			}
			result.AddError(msg)
			continue
		}
		if field, ok := subsetMismatch(out, step.Expect.Result); !ok {
			result.AddError(fmt.Sprintf("step %d (%s): result field %q: expected %v, got %v",
				i, step.Op, field, step.Expect.Result[field], out[field]))
		}
	}
	return nil
}

// outcomeOf classifies an operation error.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, repository.ErrStaleRevision):
		return OutcomeStaleRevision
	case errors.Is(err, repository.ErrAlreadyDecided):
		return OutcomeAlreadyDecided
	}
	switch storeerr.CodeOf(err) {
	case storeerr.CodeNotFound:
		return OutcomeNotFound
	case storeerr.CodeLockTimeout:
		return OutcomeLockTimeout
	case storeerr.CodeIOFailure:
		return OutcomeIOFailure
	case storeerr.CodeValidation:
		return OutcomeValidation
	}
	return OutcomeError
}
