// Package shellsafety decides whether a proposed command vector may run without human review.
//
// The decision is conservative by construction: the only positive answer is a Verdict obtained from an Oracle, and any uncertainty (unknown command,
// unparseable shell line, unsupported construct, missing collaborator) produces no verdict, which callers must treat as "ask a human".
package shellsafety

import (
	"sync/atomic"

	"github.com/codalotl/autoapprove/internal/logger"
	"github.com/codalotl/autoapprove/internal/shelltoken"
)

var log = logger.New("shellsafety")

const (
	// Interpreter and InterpreterFlag identify the only wrapper form whose shell line is decomposed: []string{"bash", "-lc", line}.
	Interpreter     = "bash"
	InterpreterFlag = "-lc"
)

// Verdict is an oracle-defined reason that a flat command is safe to auto-run. It is opaque to the Evaluator, which only forwards it.
type Verdict struct {
	Rule   string `json:"rule" yaml:"rule"`     // Rule identifies what matched. Ex: "git status".
	Reason string `json:"reason" yaml:"reason"` // Reason is a human-readable justification.
}

// An Oracle classifies a single flat argv. It must be deterministic and side-effect free. ok is false when the command is not known to be safe.
type Oracle interface {
	Classify(argv []string) (v Verdict, ok bool)
}

// A Tokenizer flattens a shell line into word and operator tokens. env is consulted for variable expansion.
type Tokenizer interface {
	Tokenize(line string, env map[string]string) ([]shelltoken.Token, error)
}

// safeOperators are the control operators allowed between segments. They have no side effects of their own.
var safeOperators = map[string]struct{}{
	"&&": {},
	"||": {},
	"|":  {},
	";":  {},
}

// groupingWords change evaluation scope, which the per-segment oracle can't see.
var groupingWords = map[string]struct{}{
	"(": {},
	")": {},
	"{": {},
	"}": {},
}

type oracleBox struct{ o Oracle }
type tokenizerBox struct{ t Tokenizer }

// Evaluator computes auto-approval verdicts. Collaborators may be nil at construction and installed later with SetOracle/SetTokenizer; until then they are
// treated as unavailable. All methods are safe for concurrent use.
type Evaluator struct {
	oracle    atomic.Pointer[oracleBox]
	tokenizer atomic.Pointer[tokenizerBox]
	environ   atomic.Pointer[func() map[string]string]
}

// NewEvaluator returns an Evaluator using oracle and tokenizer, either of which may be nil.
func NewEvaluator(oracle Oracle, tokenizer Tokenizer) *Evaluator {
	e := &Evaluator{}
	e.SetOracle(oracle)
	e.SetTokenizer(tokenizer)
	return e
}

// SetOracle installs (or, with nil, removes) the single-command oracle.
func (e *Evaluator) SetOracle(o Oracle) {
	if o == nil {
		e.oracle.Store(nil)
		return
	}
	e.oracle.Store(&oracleBox{o: o})
}

// SetTokenizer installs (or, with nil, removes) the shell-line tokenizer.
func (e *Evaluator) SetTokenizer(t Tokenizer) {
	if t == nil {
		e.tokenizer.Store(nil)
		return
	}
	e.tokenizer.Store(&tokenizerBox{t: t})
}

// SetEnviron overrides where the tokenizer's environment comes from. By default it is the process environment at call time.
func (e *Evaluator) SetEnviron(fn func() map[string]string) {
	if fn == nil {
		e.environ.Store(nil)
		return
	}
	e.environ.Store(&fn)
}

// Ready reports whether both collaborators are installed.
func (e *Evaluator) Ready() bool {
	return e.oracle.Load() != nil && e.tokenizer.Load() != nil
}

// ComputeAutoApproval returns a verdict if argv is safe to run without review, and ok=false otherwise.
//
// argv is first classified as a whole. Failing that, the form []string{"bash", "-lc", line} is decomposed: line is tokenized and split into segments at
// operators; every segment must be classified safe, every operator must be one of && || | ;, and no grouping word may appear. On success the first
// segment's verdict is returned.
//
// It never panics, even if a collaborator does.
func (e *Evaluator) ComputeAutoApproval(argv []string) (v Verdict, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("auto-approval evaluation panicked: %v", r)
			v, ok = Verdict{}, false
		}
	}()

	if len(argv) == 0 {
		return Verdict{}, false
	}

	oracle := e.currentOracle()
	if v, ok := oracle.Classify(argv); ok {
		return v, true
	}

	if len(argv) != 3 || argv[0] != Interpreter || argv[1] != InterpreterFlag {
		return Verdict{}, false
	}

	tb := e.tokenizer.Load()
	if tb == nil {
		log.Debug("tokenizer unavailable; not decomposing %q", argv[2])
		return Verdict{}, false
	}

	tokens, err := tb.t.Tokenize(argv[2], e.currentEnviron())
	if err != nil {
		log.Debug("tokenize %q: %v", argv[2], err)
		return Verdict{}, false
	}
	if len(tokens) == 0 {
		return Verdict{}, false
	}

	return evaluateTokens(oracle, tokens)
}

func evaluateTokens(oracle Oracle, tokens []shelltoken.Token) (Verdict, bool) {
	var (
		representative Verdict
		haveVerdict    bool
		segment        []string
	)

	// flush classifies the pending segment. It returns false if the segment isn't safe.
	flush := func() bool {
		if len(segment) == 0 {
			return true
		}
		v, ok := oracle.Classify(segment)
		if !ok {
			return false
		}
		if !haveVerdict {
			representative = v
			haveVerdict = true
		}
		segment = nil
		return true
	}

	for _, tok := range tokens {
		switch tok.Kind {
		case shelltoken.KindWord:
			if _, grouping := groupingWords[tok.Text]; grouping {
				return Verdict{}, false
			}
			segment = append(segment, tok.Text)
		case shelltoken.KindOperator:
			if !flush() {
				return Verdict{}, false
			}
			if _, allowed := safeOperators[tok.Text]; !allowed {
				return Verdict{}, false
			}
		default:
			return Verdict{}, false
		}
	}

	if !flush() {
		return Verdict{}, false
	}
	return representative, haveVerdict
}

func (e *Evaluator) currentOracle() Oracle {
	if ob := e.oracle.Load(); ob != nil {
		return ob.o
	}
	return noOracle{}
}

func (e *Evaluator) currentEnviron() map[string]string {
	if fn := e.environ.Load(); fn != nil {
		return (*fn)()
	}
	return shelltoken.EnvFromOS()
}

// noOracle stands in for a missing oracle. Nothing is ever proven safe.
type noOracle struct{}

func (noOracle) Classify([]string) (Verdict, bool) { return Verdict{}, false }
