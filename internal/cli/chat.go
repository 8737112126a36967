// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Interactive Commands (during chat):
//
//	/help, /h            Show available commands
//	/clear, /c           Clear conversation history
//	/model [name]        Show or switch model
//	/provider [id]       Show or switch provider
//	/web [on|off]        Show or toggle web search
//	/history             Show conversation history
//	/quit, /q            Exit chat
//	Ctrl+C               Stop the current generation
//	Ctrl+D               Exit chat

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/pinac/internal/provider"
	"github.com/jeranaias/pinac/internal/stream"
	"github.com/jeranaias/pinac/internal/util"
)

// HistoryFile is the chat input history file in the data directory.
const HistoryFile = "chat_history"

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// chatInput provides line editing and persistent history.
// USABILITY: arrow keys recall earlier prompts across sessions.
type chatInput struct {
	line        *liner.State
	historyFile string
}

func newChatInput(dataDir string) *chatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	in := &chatInput{line: line, historyFile: filepath.Join(dataDir, HistoryFile)}
	if f, err := os.Open(in.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return in
}

// Prompt reads a line and records it in history.
func (c *chatInput) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the
// terminal.
func (c *chatInput) Close() {
	defer c.line.Close()

	if err := util.EnsurePrivateDir(filepath.Dir(c.historyFile)); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, util.PrivateFilePerm)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatREPL is one interactive conversation.
type chatREPL struct {
	app       *App
	mgr       *stream.Manager
	gen       generationFlags
	history   []provider.Message
	out       io.Writer
	errOut    io.Writer
	interrupt <-chan os.Signal
}

func newChatCommand(opts *globalOptions) *cobra.Command {
	var gen generationFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Chat interactively. Replies stream as they are generated; Ctrl+C stops
the current reply and keeps the conversation. Type /help for commands.`,
		Example: `  $ pinac chat
  $ pinac chat -m qwen2.5:14b
  $ pinac chat -p custom --web`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			svc := app.NewService(writerSink(out))
			defer svc.Manager().Close()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			defer signal.Stop(interrupt)

			input := newChatInput(app.DataDir)
			defer input.Close()

			repl := &chatREPL{
				app:       app,
				mgr:       svc.Manager(),
				gen:       gen,
				out:       out,
				errOut:    cmd.ErrOrStderr(),
				interrupt: interrupt,
			}
			repl.printWelcome()
			return repl.run(input)
		},
	}
	gen.register(cmd)
	return cmd
}

// =============================================================================
// REPL LOOP
// =============================================================================

// run reads prompts until EOF, Ctrl+C at the prompt or /quit.
func (r *chatREPL) run(in lineReader) error {
	for {
		input, err := in.Prompt(PromptStyle.Render("pinac> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !r.handleSlash(input) {
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		r.send(input)
	}
}

// send generates a reply to input and records both turns. A failed turn
// is dropped from history so it can simply be retried.
func (r *chatREPL) send(input string) {
	req := r.gen.request(r.app, r.history, input)

	fmt.Fprintln(r.out)
	res, err := runSession(r.mgr, req, r.interrupt)
	fmt.Fprintln(r.out)
	if err != nil {
		DisplayError(r.errOut, err)
		return
	}

	switch {
	case res.Err != nil:
		fmt.Fprintf(r.errOut, "%s %s\n", ErrorStyle.Render("[Error]"), res.Message)
		return
	case res.Cancelled:
		fmt.Fprintln(r.errOut, WarningStyle.Render("[Cancelled]"))
	}
	fmt.Fprintln(r.out)

	r.history = append(r.history,
		provider.Message{Role: provider.RoleUser, Content: input},
		provider.Message{Role: provider.RoleAssistant, Content: res.Text},
	)
}

// handleSlash runs a slash command. It returns false to end the session.
func (r *chatREPL) handleSlash(input string) bool {
	fields := strings.Fields(input)
	name, arg := strings.ToLower(fields[0]), ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	switch name {
	case "/quit", "/q", "/exit":
		return false

	case "/help", "/h", "/?":
		r.printHelp()

	case "/clear", "/c":
		r.history = nil
		fmt.Fprintln(r.out, DimStyle.Render("Conversation cleared."))

	case "/model", "/m":
		if arg != "" {
			r.gen.model = arg
		}
		fmt.Fprintln(r.out, RenderField("Model", r.currentModel()))

	case "/provider", "/p":
		if arg != "" {
			if _, err := r.app.Registry.Lookup(arg); err != nil {
				fmt.Fprintf(r.errOut, "%s %v (known: %s)\n", ErrorStyle.Render("[Error]"), err,
					strings.Join(r.app.Registry.IDs(), ", "))
				return true
			}
			r.gen.provider = arg
			r.gen.model = ""
		}
		fmt.Fprintln(r.out, RenderField("Provider", r.gen.provider))

	case "/web", "/w":
		switch strings.ToLower(arg) {
		case "on", "true", "1":
			r.gen.webSearch = true
		case "off", "false", "0":
			r.gen.webSearch = false
		case "":
			r.gen.webSearch = !r.gen.webSearch
		}
		fmt.Fprintln(r.out, RenderField("Web search", onOff(r.gen.webSearch)))

	case "/history":
		if len(r.history) == 0 {
			fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		}
		for _, m := range r.history {
			fmt.Fprintf(r.out, "%s %s\n", RenderLabel(m.Role+":"), util.TruncateRunes(m.Content, 200))
		}

	default:
		fmt.Fprintf(r.errOut, "%s unknown command %s (try /help)\n", ErrorStyle.Render("[Error]"), name)
	}
	return true
}

func (r *chatREPL) currentModel() string {
	if r.gen.model != "" {
		return r.gen.model
	}
	if m := r.app.DefaultModel(r.gen.provider); m != "" {
		return m
	}
	return "(provider default)"
}

func (r *chatREPL) printWelcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("pinac chat")+" "+r.app.Policy.StatusBadge())
	fmt.Fprintln(r.out, RenderField("Provider", r.gen.provider))
	fmt.Fprintln(r.out, RenderField("Model", r.currentModel()))
	fmt.Fprintln(r.out, RenderField("Web search", onOff(r.gen.webSearch)))
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, Ctrl+C stops a reply, Ctrl+D exits."))
	fmt.Fprintln(r.out)
}

func (r *chatREPL) printHelp() {
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	for _, line := range [][2]string{
		{"/help", "show this help"},
		{"/clear", "clear conversation history"},
		{"/model [name]", "show or switch model"},
		{"/provider [id]", "show or switch provider"},
		{"/web [on|off]", "show or toggle web search"},
		{"/history", "show conversation history"},
		{"/quit", "exit chat"},
	} {
		fmt.Fprintln(r.out, RenderField(line[0], line[1]))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
