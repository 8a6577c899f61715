package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cardfile/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-file-or-dir>",
		Short: "Run store scenarios",
		Long: `Run YAML scenarios against a fresh store in a temporary directory.

Each scenario's step expectations and assertions are checked. When
golden/<name>.golden exists next to the scenario file, the recorded trace
must also match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  cardfile test ./scenarios
  cardfile test ./scenarios --filter "lock_*"
  cardfile test ./scenarios --update
  cardfile test ./scenarios/basic_flow.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", path))
	}

	files, err := findScenarioFiles(path, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	if len(files) == 0 {
		return out.Result("No scenarios found.", result)
	}

	w := cmd.OutOrStdout()
	for _, file := range files {
		sr := runScenario(file, opts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}

		if opts.Format == "json" {
			continue
		}
		if sr.Pass {
			fmt.Fprintf(w, "✓ %s\n", sr.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(out, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles returns path itself if it is a file, or every YAML file
// below it in lexical order.
func findScenarioFiles(path, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			if ok, _ := filepath.Match(filter, name); !ok {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})
	return files, err
}

// runScenario executes one scenario file and checks it against its golden
// trace, if any.
func runScenario(file string, opts *TestOptions) ScenarioResult {
	name := filepath.Base(file)
	fail := func(format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	name = scenario.Name

	result, err := harness.Run(scenario)
	if err != nil {
		return fail("execution failed: %v", err)
	}

	snapshot, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return fail("failed to render trace: %v", err)
	}

	goldenPath := goldenFilePath(file, scenario.Name)
	if opts.Update {
		if err := writeGolden(goldenPath, snapshot); err != nil {
			return fail("failed to update golden file: %v", err)
		}
	} else {
		golden, err := os.ReadFile(goldenPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Assertions only.
		case err != nil:
			return fail("failed to read golden file: %v", err)
		case !bytes.Equal(golden, snapshot):
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	}

	return ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
}

// goldenFilePath returns golden/<name>.golden next to the scenario file.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(out *OutputFormatter, result TestResult) error {
	if result.Failed == 0 {
		return out.Success(result)
	}

	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if err := out.encode(CLIResponse{
		Status: "error",
		Data:   result,
		Error:  &CLIError{Code: ErrCodeTestFailed, Message: msg},
	}); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
