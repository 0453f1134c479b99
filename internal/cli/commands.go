package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codalotl/autoapprove/internal/api"
	"github.com/codalotl/autoapprove/internal/config"
	"github.com/codalotl/autoapprove/internal/execrequest"
	"github.com/codalotl/autoapprove/internal/logger"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var log = logger.New("cli")

// errNeedsReview is returned by `check --fail-on-review` when the command was not auto-approved.
var errNeedsReview = errors.New("command needs review")

// rootState is shared by all subcommands of one invocation.
type rootState struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	state := &rootState{}

	root := &cobra.Command{
		Use:           "autoapprove",
		Short:         "Decide whether agent shell commands may run without review",
		Long:          "autoapprove classifies shell commands proposed by an LLM agent as auto-approved or requiring human review.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.init(cmd)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.PersistentFlags().StringVar(&state.configPath, "config", "", "config file (default ~/.autoapprove/config.yaml)")
	root.PersistentFlags().StringVar(&state.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(
		newCheckCommand(state),
		newDecodeCommand(),
		newPolicyCommand(state),
		newServeCommand(state),
	)
	return root
}

func (s *rootState) init(cmd *cobra.Command) error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}
	if s.logLevel != "" {
		if _, err := logger.ParseLevel(s.logLevel); err != nil {
			return usageError{err: err}
		}
		cfg.Log.Level = s.logLevel
	}
	if !isTerminal(cmd.ErrOrStderr()) {
		cfg.Log.Colored = false
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}
	if cfg.File != "" {
		log.Debug("using config %s", cfg.File)
	}
	s.cfg = cfg
	return nil
}

func newCheckCommand(state *rootState) *cobra.Command {
	var (
		callID       string
		failOnReview bool
	)
	cmd := &cobra.Command{
		Use:   "check [ARGS_JSON]",
		Short: "Review a shell tool call's arguments",
		Long: `Review a shell tool call's arguments and print the review detail as JSON.

ARGS_JSON is the tool call's argument object, for example {"cmd":["bash","-lc","ls && pwd"]}. If it is omitted, it is read from stdin.`,
		Args: argsRange(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			g := newGate(state.cfg)
			if err := g.load(); err != nil {
				return err
			}

			detail, ok := g.reviewer.Review(callID, text)
			if !ok {
				return errors.New("arguments do not contain a command")
			}
			if err := writeJSON(cmd.OutOrStdout(), detail); err != nil {
				return err
			}
			if failOnReview && !detail.AutoApproved() {
				return errNeedsReview
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "tool call ID to record in the review detail")
	cmd.Flags().BoolVar(&failOnReview, "fail-on-review", false, "exit non-zero unless the command is auto-approved")
	return cmd
}

func newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [RESULT_JSON]",
		Short: "Decode a shell tool call's result",
		Long: `Decode a shell execution result and print the outcome as JSON.

RESULT_JSON looks like {"output":"...","metadata":{"exit_code":0,"duration_seconds":1.2}}. If it is omitted, it is read from stdin. Results that can't be
decoded produce a failure outcome rather than an error.`,
		Args: argsRange(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), execrequest.DecodeOutcome(text))
		},
	}
}

func newPolicyCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the active command policy as YAML",
		Args:  argsRange(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPolicy(state.cfg)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(p); err != nil {
				return fmt.Errorf("encode policy: %w", err)
			}
			return enc.Close()
		},
	}
}

func newServeCommand(state *rootState) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the approval API over HTTP",
		Args:  argsRange(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := state.cfg
			if addr == "" {
				addr = cfg.Server.Addr
			}

			g := newGate(cfg)
			defer g.close()

			// Requests are served while the policy loads; until then nothing is auto-approved.
			go func() {
				if err := g.load(); err != nil {
					log.Error("%v", err)
					return
				}
				if err := g.watch(); err != nil {
					log.Warn("policy watcher not started: %v", err)
				}
			}()

			srv := api.NewServer(api.Options{
				Reviewer:     g.reviewer,
				Policy:       g.policy,
				Readiness:    g.evaluator,
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.addr)")
	return cmd
}

// readInput returns args[0] if present, otherwise all of stdin. An interactive stdin is refused rather than waited on.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	in := cmd.InOrStdin()
	if isTerminal(in) {
		return "", usageErrorf("no input: pass %s or pipe it on stdin", strings.Trim(strings.Fields(cmd.Use)[1], "[]"))
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok || f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
