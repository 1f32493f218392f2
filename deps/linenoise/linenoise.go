// Package linenoise wraps peterh/liner behind the minimal prompt-and-history
// surface the CLI needs.
package linenoise

import (
	"bytes"
	"fmt"
	"os"

	"github.com/peterh/liner"
)

// Line is the process-wide prompt state. liner enters raw mode only for the
// duration of each Prompt call, so one shared instance is safe for a
// single-REPL process.
var Line *LineNoise

type LineNoise struct {
	*liner.State
}

// HistoryLoad primes the in-memory history from a file. A missing file is
// reported to the caller, who usually ignores it.
func (ln *LineNoise) HistoryLoad(filepath string) error {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	_, err = ln.ReadHistory(bytes.NewReader(content))
	return err
}

// HistorySave writes the in-memory history back out.
func (ln *LineNoise) HistorySave(filepath string) error {
	var buf bytes.Buffer
	if _, err := ln.WriteHistory(&buf); err != nil {
		return err
	}
	return os.WriteFile(filepath, buf.Bytes(), 0644)
}

// ClearScreen wipes the terminal with the usual VT100 sequence.
func (ln *LineNoise) ClearScreen() error {
	_, err := fmt.Fprint(os.Stdout, "\x1b[H\x1b[2J")
	return err
}

func init() {
	Line = &LineNoise{liner.NewLiner()}
	Line.SetCtrlCAborts(true)
}
