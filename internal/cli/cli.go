// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/pinac/internal/config"
	"github.com/jeranaias/pinac/internal/credstore"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dataDir    string
	offline    bool
	verbose    bool
}

// resolvedConfigPath returns --config or the default location.
func (o *globalOptions) resolvedConfigPath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	path, err := config.DefaultPath()
	if err != nil {
		return "", &CommandError{Code: ExitConfigError, Message: "cannot locate config directory", Cause: err}
	}
	return path, nil
}

// loadConfig loads the config file and applies flag overrides, which win
// over both the file and PINAC_* variables.
func (o *globalOptions) loadConfig() (*config.Config, string, error) {
	path, err := o.resolvedConfigPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, &CommandError{Code: ExitConfigError, Message: "cannot load configuration", Cause: err}
	}
	o.applyOverrides(cfg)
	return cfg, path, nil
}

func (o *globalOptions) applyOverrides(cfg *config.Config) {
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.offline {
		cfg.Offline = true
	}
	if o.verbose {
		cfg.Log.Verbose = true
	}
}

// openApp loads the configuration and wires the application.
func (o *globalOptions) openApp(ctx context.Context) (*App, error) {
	cfg, _, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Log.Verbose {
		configureLogging(true, os.Stderr)
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("[cli] %s", app.describe())
	return app, nil
}

// openStore opens only the credential store, for commands that need
// nothing else.
func (o *globalOptions) openStore(ctx context.Context) (*credstore.Store, error) {
	cfg, _, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.ResolvedDataDir()
	if err != nil {
		return nil, &CommandError{Code: ExitConfigError, Message: "cannot resolve data directory", Cause: err}
	}
	return openStore(ctx, cfg, dataDir)
}

// configureLogging sends component logs to w when verbose, and drops them
// otherwise so they never interleave with chat output.
func configureLogging(verbose bool, w io.Writer) {
	if verbose {
		log.SetOutput(w)
		log.SetFlags(log.LstdFlags)
		return
	}
	log.SetOutput(io.Discard)
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the pinac command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:     "pinac",
		Short:   "Streaming chat with local and cloud models",
		Version: Version,
		Long: `pinac chats with a local Ollama model, the managed cloud backend or
your own provider key, optionally grounding answers in a web search.

Secrets are kept encrypted in the data directory; use "pinac credential"
to manage them.`,
		Example: `  # Interactive chat with the default local model
  $ pinac chat

  # One-shot question with web search through the managed backend
  $ pinac ask -p pinac-cloud --web "what changed in Go 1.24?"

  # Run the API for the desktop shell
  $ pinac serve`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(opts.verbose, cmd.ErrOrStderr())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf("pinac version %s (commit %s, built %s)\n", Version, GitCommit, BuildDate))

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.pinac/config.toml)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory for credentials and history")
	flags.BoolVar(&opts.offline, "offline", false, "block all non-loopback network access")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log component activity to stderr")

	root.AddCommand(
		newServeCommand(opts),
		newChatCommand(opts),
		newAskCommand(opts),
		newModelsCommand(opts),
		newCredentialCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		DisplayError(os.Stderr, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
