// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/pinac/internal/provider"
	"github.com/jeranaias/pinac/internal/stream"
)

// =============================================================================
// SHARED GENERATION FLAGS
// =============================================================================

// generationFlags select where and how a prompt is answered.
type generationFlags struct {
	provider  string
	model     string
	webSearch bool
}

func (g *generationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&g.provider, "provider", "p", provider.IDLocal,
		"provider: ollama (local), pinac-cloud or custom")
	cmd.Flags().StringVarP(&g.model, "model", "m", "", "model name (default from config)")
	cmd.Flags().BoolVarP(&g.webSearch, "web", "w", false, "ground the answer in a web search")
}

// request builds a generation request for prompt after history.
func (g *generationFlags) request(app *App, history []provider.Message, prompt string) provider.Request {
	model := g.model
	if model == "" {
		model = app.DefaultModel(g.provider)
	}
	msgs := make([]provider.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: prompt})

	return provider.Request{
		Prompt:     prompt,
		History:    msgs,
		ProviderID: g.provider,
		ModelID:    model,
		WebSearch:  g.webSearch,
	}
}

// writerSink prints data events to w as they arrive.
func writerSink(w io.Writer) stream.Sink {
	return stream.SinkFunc(func(e stream.Event) {
		if e.Type == stream.EventData {
			fmt.Fprint(w, e.Content)
		}
	})
}

// runSession starts req and waits for it. interrupt cancels the session;
// the partial result is still returned.
func runSession(mgr *stream.Manager, req provider.Request, interrupt <-chan os.Signal) (stream.Result, error) {
	// Drop interrupts that arrived after the previous session ended.
	for len(interrupt) > 0 {
		<-interrupt
	}

	session, err := mgr.Start(context.Background(), req)
	if err != nil {
		return stream.Result{}, err
	}

	select {
	case <-session.Done():
	case <-interrupt:
		mgr.Cancel()
	}
	return session.Wait(context.Background())
}

// resultError turns a failed result into a command error carrying the
// user-facing message.
func resultError(res stream.Result) error {
	if res.Err == nil {
		return nil
	}
	return &CommandError{Code: GetExitCode(res.Err), Message: res.Message}
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func newAskCommand(opts *globalOptions) *cobra.Command {
	var gen generationFlags

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Answer a single prompt and exit",
		Long: `Stream the answer to one prompt to stdout. Use "-" to read the prompt
from stdin. Ctrl+C stops the generation and keeps what was printed.`,
		Example: `  $ pinac ask "explain goroutine leaks"
  $ pinac ask -m qwen2.5:7b - < notes.txt
  $ git diff | pinac ask -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

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

			res, err := runSession(svc.Manager(), gen.request(app, nil, prompt), interrupt)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)

			if res.Cancelled {
				fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render("[Cancelled]"))
				return &CommandError{Code: ExitInterrupted, Message: "generation cancelled"}
			}
			return resultError(res)
		},
	}
	gen.register(cmd)
	return cmd
}

// readPrompt joins args, or reads stdin when the only arg is "-".
func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(io.LimitReader(in, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		args = []string{string(data)}
	}
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", usageError("prompt must not be empty")
	}
	return prompt, nil
}
