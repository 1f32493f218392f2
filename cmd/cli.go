// Package cmd implements the interactive line client the aevent binary
// exposes: a liner-driven prompt that ships each line to the server and
// prints whatever comes back.
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/fzft/go-async-event/deps/linenoise"
)

const (
	cliHistFileEnv     = "AEVENT_CLI_HISTFILE"
	cliHistFileDefault = ".aevent_history"

	replyTimeout = 5 * time.Second
)

// RunREPL connects to addr and enters the prompt loop. A non-terminal
// stdin switches to pipe mode: read lines, send, print replies.
func RunREPL(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, replyTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return pipeLines(conn)
	}

	historyFile := dotfilePath(cliHistFileEnv, cliHistFileDefault)
	if historyFile != "" {
		linenoise.Line.HistoryLoad(historyFile)
	}

	prompt := addr + "> "
	for {
		input, err := linenoise.Line.Prompt(prompt)
		if err != nil {
			// Ctrl-C or Ctrl-D leaves the loop
			if err == liner.ErrPromptAborted || err == io.EOF {
				break
			}
			return err
		}
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		linenoise.Line.AppendHistory(input)
		if historyFile != "" {
			linenoise.Line.HistorySave(historyFile)
		}
		if strings.EqualFold(trimmed, "quit") || strings.EqualFold(trimmed, "exit") {
			break
		}
		if strings.EqualFold(trimmed, "clear") {
			linenoise.Line.ClearScreen()
			continue
		}

		reply, err := roundTrip(conn, trimmed)
		if err != nil {
			fmt.Printf("(error) %v\n", err)
			return err
		}
		fmt.Println(reply)
	}
	return nil
}

func pipeLines(conn net.Conn) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		reply, err := roundTrip(conn, text)
		if err != nil {
			return err
		}
		fmt.Println(reply)
	}
	return scanner.Err()
}

func roundTrip(conn net.Conn, text string) (string, error) {
	if err := conn.SetDeadline(time.Now().Add(replyTimeout)); err != nil {
		return "", err
	}
	if _, err := conn.Write([]byte(text + "\n")); err != nil {
		return "", err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && reply == "" {
		return "", err
	}
	return strings.TrimRight(reply, "\n"), nil
}

// dotfilePath resolves a history-style dotfile: the env var wins, otherwise
// the file lands in the user's home directory.
func dotfilePath(envOverride, dotFilename string) string {
	if path := os.Getenv(envOverride); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, dotFilename)
}
