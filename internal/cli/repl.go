package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/hession/toolgate/internal/config"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// Run starts the interactive chat interface.
func Run(ctx context.Context, svc Service, cfg *config.Config, version string) error {
	printWelcome(os.Stdout, version)

	if !cfg.IsAPIKeyConfigured() {
		fmt.Printf("%s⚠️  QWEN_API_KEY is not set; chat answers will fail, /tools and /invoke still work%s\n\n", colorYellow, colorReset)
	}

	return runREPL(ctx, NewSession(svc, cfg, os.Stdout))
}

func printWelcome(w io.Writer, version string) {
	fmt.Fprintf(w, "\n%s🔧 toolgate v%s%s - tool-calling assistant\n", colorCyan, version, colorReset)
	fmt.Fprintf(w, "%sType /help for help, /exit to quit%s\n", colorGray, colorReset)
	fmt.Fprintf(w, "%sFor multi-line input: end a line with \\, then press Enter twice to submit%s\n\n", colorGray, colorReset)
}

// getHistoryFilePath returns the history file path
func getHistoryFilePath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}

func newCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(GetCommandSuggestions()))
	for _, s := range GetCommandSuggestions() {
		items = append(items, readline.PcItem(s.Text))
	}
	return readline.NewPrefixCompleter(items...)
}

// runREPL runs the interactive REPL with readline support
func runREPL(ctx context.Context, s *Session) error {
	rlConfig := &readline.Config{
		Prompt:                 fmt.Sprintf("%sYou: %s", colorGreen, colorReset),
		HistoryFile:            getHistoryFilePath(),
		HistoryLimit:           1000,
		AutoComplete:           newCompleter(),
		InterruptPrompt:        "^C",
		EOFPrompt:              "exit",
		HistorySearchFold:      true,
		DisableAutoSaveHistory: false,
	}

	rl, err := readline.NewEx(rlConfig)
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
			rl.Close()
		case <-ctx.Done():
		}
	}()

	var multiLineBuffer strings.Builder
	inMultiLine := false

	for {
		if inMultiLine {
			rl.SetPrompt(fmt.Sprintf("%s...  %s", colorGray, colorReset))
		} else {
			rl.SetPrompt(fmt.Sprintf("%sYou: %s", colorGreen, colorReset))
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLineBuffer.Reset()
					inMultiLine = false
					fmt.Println()
					continue
				}
				fmt.Printf("\n%sPress Ctrl+D or type /exit to quit%s\n", colorYellow, colorReset)
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				fmt.Printf("\n%sGoodbye! 👋%s\n", colorCyan, colorReset)
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		if inMultiLine {
			if line != "" {
				multiLineBuffer.WriteString(line)
				multiLineBuffer.WriteString("\n")
				continue
			}
			// Empty line ends multi-line input
			inMultiLine = false
			input := strings.TrimSpace(multiLineBuffer.String())
			multiLineBuffer.Reset()
			if input != "" && !s.Execute(ctx, input) {
				return nil
			}
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasSuffix(input, "\\") {
			inMultiLine = true
			multiLineBuffer.WriteString(strings.TrimSuffix(input, "\\"))
			multiLineBuffer.WriteString("\n")
			fmt.Printf("%s(Multi-line mode: press Enter twice to submit, Ctrl+C to cancel)%s\n", colorGray, colorReset)
			continue
		}

		if !s.Execute(ctx, input) {
			return nil
		}
	}
}
