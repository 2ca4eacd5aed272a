package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/chzyer/readline"

	"opsbot/internal/timeout"
	"opsbot/pkg/logging"
)

const (
	welcomeMessage    = "opsbot: Ask me about DevOps on AWS!"
	helpMessage       = "Type 'tools' to see available capabilities, or 'exit' to quit."
	exitMessage       = "Happy DevOpsing!"
	emptyInputMessage = "Please ask me something about DevOps on AWS."
	timedOutMessage   = "That took too long to answer - try a narrower question."
)

// renderWidth is the column width for terminal markdown output.
const renderWidth = 100

var toolCommands = []string{"tools", "list tools", "show tools", "available tools", "what tools"}
var exitCommands = []string{"exit", "quit", "bye"}

// REPL is the interactive read-eval-print loop over a session.
type REPL struct {
	session *Session
	rl      *readline.Instance
	logChan <-chan logging.LogEntry
	wg      sync.WaitGroup
	stop    chan struct{}
}

// NewREPL creates a REPL. logChan may be nil when logging goes straight to
// stderr; otherwise the REPL drains it and prints entries above the prompt.
func NewREPL(session *Session, logChan <-chan logging.LogEntry) *REPL {
	return &REPL{
		session: session,
		logChan: logChan,
		stop:    make(chan struct{}),
	}
}

// lineReader is the readline surface the input loop needs.
type lineReader interface {
	Readline() (string, error)
}

// Run starts the interactive loop and blocks until exit, EOF, or ctx
// cancellation.
func (r *REPL) Run(ctx context.Context) error {
	historyFile := filepath.Join(os.TempDir(), ".opsbot_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "opsbot> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	if r.logChan != nil {
		r.wg.Add(1)
		go r.logListener(ctx)
		defer func() {
			close(r.stop)
			r.wg.Wait()
		}()
	}

	fmt.Println(welcomeMessage)
	fmt.Println(helpMessage)
	fmt.Println()

	return r.loop(ctx, rl)
}

func (r *REPL) loop(ctx context.Context, rl lineReader) error {
	for {
		select {
		case <-ctx.Done():
			logging.Info("REPL", "Session interrupted; shutting down")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			// Ctrl-C aborts the current line, typed or not.
			continue
		} else if err == io.EOF {
			fmt.Println(exitMessage)
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			fmt.Println(emptyInputMessage)
			continue
		}

		if isCommand(input, exitCommands) {
			fmt.Println(exitMessage)
			return nil
		}
		if isCommand(input, toolCommands) {
			r.printTools()
			continue
		}

		answer, err := r.session.Turn(ctx, input)
		switch {
		case errors.Is(err, timeout.ErrTimedOut):
			fmt.Println(timedOutMessage)
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			logging.Error("REPL", err, "Turn failed")
		default:
			fmt.Println(string(markdown.Render(answer, renderWidth, 2)))
		}
		fmt.Println()
	}
}

// printTools renders the capability catalogue grouped by provider, the
// built-in web search always included.
func (r *REPL) printTools() {
	fmt.Println("Available capabilities:")
	fmt.Println()
	fmt.Println("  built-in:")
	fmt.Printf("    %-28s %s\n", WebSearchToolName, "Search the web to get updated information quickly.")

	groups := r.session.registry.ByProvider()
	for _, provider := range r.session.registry.Providers() {
		fmt.Printf("\n  %s:\n", provider)
		descriptors := groups[provider]
		if len(descriptors) == 0 {
			fmt.Println("    (no capabilities reported)")
			continue
		}
		for _, d := range descriptors {
			fmt.Printf("    %-28s %s\n", d.Name, d.Description)
		}
	}
	fmt.Println()
}

// logListener prints buffered log entries above the prompt so they never
// interleave with user input.
func (r *REPL) logListener(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case entry, ok := <-r.logChan:
			if !ok {
				return
			}
			if r.rl != nil {
				r.rl.Stdout().Write([]byte("\r\033[K"))
			}
			line := fmt.Sprintf("[%s] %s: %s", entry.Level, entry.Subsystem, entry.Message)
			if entry.Err != nil {
				line += fmt.Sprintf(" (%v)", entry.Err)
			}
			fmt.Println(line)
			if r.rl != nil {
				r.rl.Refresh()
			}
		}
	}
}

func isCommand(input string, commands []string) bool {
	lowered := strings.ToLower(input)
	for _, cmd := range commands {
		if lowered == cmd {
			return true
		}
	}
	return false
}
