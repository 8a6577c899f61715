package docstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/roach88/cardfile/internal/card"
)

// Journal is the append-only structural-error log. Each rejected document
// produces one line:
//
//	<timestamp> - Invalid card <key>: <detail>
type Journal struct {
	log  *logrus.Logger
	file *os.File
}

// lineFormatter renders entries without logrus' key=value decoration.
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("%s - %s\n", card.FormatTimestamp(e.Time), e.Message)), nil
}

// OpenJournal opens (creating if needed) the journal file at path for appending.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := NewJournal(f)
	j.file = f
	return j, nil
}

// NewJournal writes journal lines to w. The caller keeps ownership of w.
func NewJournal(w io.Writer) *Journal {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(lineFormatter{})
	l.SetLevel(logrus.ErrorLevel)
	return &Journal{log: l}
}

// Record appends one line for an invalid document.
func (j *Journal) Record(key, detail string) {
	if j == nil {
		return
	}
	j.log.Errorf("Invalid card %s: %s", key, detail)
}

// Close closes the journal file if OpenJournal created it.
func (j *Journal) Close() error {
	if j == nil || j.file == nil {
		return nil
	}
	return j.file.Close()
}
