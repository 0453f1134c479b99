package cli

import (
	"fmt"
	"sync"

	"github.com/codalotl/autoapprove/internal/commandpolicy"
	"github.com/codalotl/autoapprove/internal/config"
	"github.com/codalotl/autoapprove/internal/review"
	"github.com/codalotl/autoapprove/internal/shellsafety"
	"github.com/codalotl/autoapprove/internal/shelltoken"
)

// gate bundles the policy, evaluator and reviewer built from a Config.
type gate struct {
	cfg       *config.Config
	policy    *commandpolicy.Policy
	evaluator *shellsafety.Evaluator
	reviewer  *review.Reviewer

	mu      sync.Mutex // guards watcher and closed
	watcher *commandpolicy.Watcher
	closed  bool
}

func loadPolicy(cfg *config.Config) (*commandpolicy.Policy, error) {
	if cfg.Policy.File == "" {
		return commandpolicy.New(), nil
	}
	p, err := commandpolicy.LoadFile(cfg.Policy.File)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return p, nil
}

// newGate builds a gate whose evaluator has no collaborators yet. Call load to install them.
func newGate(cfg *config.Config) *gate {
	policy := commandpolicy.NewEmpty()
	evaluator := shellsafety.NewEvaluator(nil, nil)
	return &gate{
		cfg:       cfg,
		policy:    policy,
		evaluator: evaluator,
		reviewer:  review.NewReviewer(evaluator, review.ShellFormatter{}),
	}
}

// load reads the configured policy and installs the oracle and (unless disabled) the tokenizer. Until it returns, reviews never auto-approve.
func (g *gate) load() error {
	loaded, err := loadPolicy(g.cfg)
	if err != nil {
		return err
	}
	g.policy.Replace(loaded)
	g.evaluator.SetOracle(g.policy)
	if !g.cfg.Evaluator.DisableTokenizer {
		g.evaluator.SetTokenizer(shelltoken.New())
	}
	return nil
}

// watch starts reloading the policy file on change, if configured. It does nothing once the gate is closed.
func (g *gate) watch() error {
	if !g.cfg.Policy.Watch || g.cfg.Policy.File == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.watcher != nil {
		return nil
	}

	w, err := commandpolicy.NewWatcher(g.policy, g.cfg.Policy.File)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}
	g.watcher = w
	return nil
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	if g.watcher != nil {
		_ = g.watcher.Stop()
		g.watcher = nil
	}
}
