package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Strict bool
}

// FileResult is the validation outcome of one document.
type FileResult struct {
	Path   string `json:"path"`
	Valid  bool   `json:"valid"`
	Detail string `json:"detail,omitempty"`
}

// ValidateResult holds the outcome for every checked document.
type ValidateResult struct {
	Files   []FileResult `json:"files"`
	Valid   int          `json:"valid"`
	Invalid int          `json:"invalid"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [file-or-dir]",
		Short: "Check card documents against the schema",
		Long: `Validate one card document, or every *.json file in a directory, against
the card schema. A document must also carry the number its file is named
after, padded from its id. Defaults to the cards directory under the data
directory.

Exit codes:
  0 - All documents valid
  1 - One or more documents invalid
  2 - Command error (missing path, unreadable file)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "limit history types to text, photo, file, voice and command")
	return cmd
}

func runValidate(opts *ValidateOptions, args []string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	target := cfg.CardsDir()
	if len(args) == 1 {
		target = args[0]
	}

	files, err := documentFiles(target)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", target), err)
	}

	v, err := newValidator(opts.Strict || cfg.StrictHistory)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build card schema", err)
	}

	result := ValidateResult{Files: make([]FileResult, 0, len(files))}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", f), err)
		}
		r := v.Validate(data)
		if r.OK {
			r = v.ValidateKey(strings.TrimSuffix(filepath.Base(f), filepath.Ext(f)), data)
		}
		result.Files = append(result.Files, FileResult{Path: f, Valid: r.OK, Detail: r.Detail})
		if r.OK {
			result.Valid++
			out.VerboseLog("ok %s", f)
		} else {
			result.Invalid++
		}
	}

	if result.Invalid > 0 {
		msg := fmt.Sprintf("%d of %d document(s) invalid", result.Invalid, len(files))
		if opts.Format == "json" {
			_ = out.Error(ErrCodeInvalidDocument, msg, result)
		} else {
			var b strings.Builder
			for _, f := range result.Files {
				if !f.Valid {
					fmt.Fprintf(&b, "✗ %s: %s\n", f.Path, f.Detail)
				}
			}
			b.WriteString(msg)
			fmt.Fprintln(out.Writer, b.String())
		}
		return NewExitError(ExitFailure, msg)
	}

	return out.Result(fmt.Sprintf("✓ %d document(s) valid", result.Valid), result)
}

// documentFiles returns path if it is a file, otherwise the *.json files
// directly inside it, sorted.
func documentFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type()&fs.ModeType != 0 || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	return files, nil
}
