package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/cardfile/internal/fsutil"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", event.Seq, event.Op, event.Args, event.Outcome)
		}
	}
	return buf.String()
}

// assertTraceCount checks that op appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the first occurrence of each op follows the
// previous one. Intervening ops are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = i + 1
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func (h *Harness) assertCardState(a Assertion) error {
	c, err := h.repo.Load(a.Number)
	if err != nil {
		return &AssertionError{
			Type:     AssertCardState,
			Expected: fmt.Sprintf("card %s to load", a.Number),
			Actual:   err.Error(),
		}
	}
	view := cardView(c)
	if field, ok := subsetMismatch(view, a.Expect); !ok {
		return &AssertionError{
			Type:     AssertCardState,
			Expected: fmt.Sprintf("card %s field %q = %v", a.Number, field, a.Expect[field]),
			Actual:   fmt.Sprintf("%v", view[field]),
		}
	}
	return nil
}

func (h *Harness) assertCardMissing(a Assertion) error {
	if _, err := h.repo.Load(a.Number); err == nil {
		return &AssertionError{
			Type:     AssertCardMissing,
			Expected: fmt.Sprintf("card %s not to load", a.Number),
			Actual:   "card loaded",
		}
	}
	return nil
}

func (h *Harness) assertJournalLines(a Assertion) error {
	n, err := countLines(h.journal)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertJournalLines,
			Expected: fmt.Sprintf("%d journal lines", a.Count),
			Actual:   fmt.Sprintf("%d journal lines", n),
		}
	}
	return nil
}

func (h *Harness) assertCounter(a Assertion) error {
	got, err := h.ids.Current()
	if err != nil {
		return err
	}
	if got != *a.Value {
		return &AssertionError{
			Type:     AssertCounter,
			Expected: fmt.Sprintf("counter = %d", *a.Value),
			Actual:   fmt.Sprintf("counter = %d", got),
		}
	}
	return nil
}

// assertNoArtifacts checks that no temp files remain next to cards or the
// counter, and that the lock file is gone unless a hold_lock is still open.
func (h *Harness) assertNoArtifacts(Assertion) error {
	var leftovers []string
	for _, dir := range []string{h.dir, h.docs.Dir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			if fsutil.IsTemp(e.Name()) {
				leftovers = append(leftovers, e.Name())
			}
		}
	}
	if h.held == nil {
		if _, err := os.Stat(h.locker.Path()); err == nil {
			leftovers = append(leftovers, "counter.lock")
		}
	}
	if len(leftovers) > 0 {
		sort.Strings(leftovers)
		return &AssertionError{
			Type:     AssertNoArtifacts,
			Expected: "no temp or lock files",
			Actual:   strings.Join(leftovers, ", "),
		}
	}
	return nil
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return 0, nil
	}
	return strings.Count(text, "\n") + 1, nil
}

// subsetMismatch reports the first key of expected (in sorted order) whose
// value differs from actual. Both sides are compared in their JSON form so
// YAML ints match Go int64s.
func subsetMismatch(actual, expected map[string]any) (string, bool) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok || !reflect.DeepEqual(normalize(got), normalize(expected[k])) {
			return k, false
		}
	}
	return "", true
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// evaluateAssertions returns one message per failed assertion.
func (h *Harness) evaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertCardState:
			err = h.assertCardState(a)
		case AssertCardMissing:
			err = h.assertCardMissing(a)
		case AssertJournalLines:
			err = h.assertJournalLines(a)
		case AssertCounter:
			err = h.assertCounter(a)
		case AssertNoArtifacts:
			err = h.assertNoArtifacts(a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
