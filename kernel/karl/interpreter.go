package karl

import (
	"time"

	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
	"github.com/ssabatier/madara/kernel/utils"
)

// Interpreter compiles and evaluates KaRL source against a Context. It
// keeps a source-string-to-compiled-tree cache (§4.3 Expression cache);
// per the base spec the cache is not safe for concurrent Compile/Evaluate
// calls from multiple goroutines — either serialize through a single
// Context-held lock or use one Interpreter per goroutine, same tradeoff
// inos_v1 makes for its per-connection decoder state.
type Interpreter struct {
	logger   *utils.Logger
	settings knowledgecontext.EvalSettings

	cache map[string]Node

	// OnFatalCompileError, when set, is invoked for a compile failure
	// while settings.NeverExit is false. The base language this was
	// distilled from called exit() in that case; a library has no
	// business killing its host process, so compilation still returns
	// the error either way and this hook exists purely so an embedder
	// can plug in their own fatal-path behavior (alerting, process
	// supervisor restart, etc.) without MADARA itself deciding it.
	OnFatalCompileError func(source string, err *CompileError)
}

// NewInterpreter builds an Interpreter with settings controlling
// variable expansion, dissemination of writes made during evaluation,
// and the never_exit compile-error policy.
func NewInterpreter(settings knowledgecontext.EvalSettings) *Interpreter {
	return &Interpreter{
		logger:   utils.DefaultLogger("karl"),
		settings: settings,
		cache:    make(map[string]Node),
	}
}

// SetLogger overrides the default logger.
func (in *Interpreter) SetLogger(l *utils.Logger) { in.logger = l }

func (in *Interpreter) updateSettings() knowledgecontext.KnowledgeUpdateSettings {
	return in.settings.KnowledgeUpdateSettings
}

// Compile parses and prunes source, caching the resulting tree. A
// second Compile of the same literal source string returns the cached
// tree without re-parsing.
func (in *Interpreter) Compile(source string) (Node, error) {
	if cached, ok := in.cache[source]; ok {
		return cached, nil
	}

	toks, err := lex(source)
	if err != nil {
		cerr := newCompileError(ErrCodeSyntax, err.Error(), 0)
		return nil, in.fatal(source, cerr)
	}

	p := newParser(toks)
	tree, err := p.parseProgram()
	if err != nil {
		var cerr *CompileError
		if ce, ok := err.(*CompileError); ok {
			cerr = ce
		} else {
			cerr = newCompileError(ErrCodeSyntax, err.Error(), 0)
		}
		return nil, in.fatal(source, cerr)
	}

	pruned, _, err := tree.prune()
	if err != nil {
		cerr, ok := err.(*CompileError)
		if !ok {
			cerr = newCompileError(ErrCodeSyntax, err.Error(), 0)
		}
		return nil, in.fatal(source, cerr)
	}

	in.cache[source] = pruned
	return pruned, nil
}

func (in *Interpreter) fatal(source string, cerr *CompileError) error {
	if !in.settings.NeverExit && in.OnFatalCompileError != nil {
		in.OnFatalCompileError(source, cerr)
	}
	in.logger.Error("karl compile error: " + cerr.Error())
	return cerr
}

// Evaluate compiles (if needed) and runs source against ctx. It
// implements knowledgecontext.ExpressionEvaluator, so an Interpreter can
// be wired in directly via Context.SetEvaluator.
func (in *Interpreter) Evaluate(source string, ctx *knowledgecontext.Context) (record.Record, error) {
	tree, err := in.Compile(source)
	if err != nil {
		return record.NewEmpty(), err
	}
	if in.settings.PrePrintStatement != "" {
		if expanded, err := ctx.ExpandStatement(in.settings.PrePrintStatement); err != nil {
			in.logger.Warn("pre_print_statement expand failed: " + err.Error())
		} else {
			in.logger.Info(expanded)
		}
	}
	result, err := tree.eval(ctx, in)
	if err != nil {
		if rerr, ok := err.(*RuntimeError); ok {
			in.logger.Warn("karl runtime error: " + rerr.Error())
			return record.NewEmpty(), nil
		}
		return record.NewEmpty(), err
	}
	if in.settings.PostPrintStatement != "" {
		if expanded, err := ctx.ExpandStatement(in.settings.PostPrintStatement); err != nil {
			in.logger.Warn("post_print_statement expand failed: " + err.Error())
		} else {
			in.logger.Info(expanded)
		}
	}
	return result, nil
}

// DeleteExpression evicts source from the compiled-tree cache.
func (in *Interpreter) DeleteExpression(source string) {
	delete(in.cache, source)
}

// Wait repeatedly evaluates source, polling at settings.PollFrequencySeconds,
// until it evaluates true or settings.MaxWaitSeconds elapses (<=0 means no
// deadline). It returns the last evaluated result either way, matching
// §5's "on timeout returns the last evaluated result" rule.
func (in *Interpreter) Wait(source string, ctx *knowledgecontext.Context, settings knowledgecontext.WaitSettings) (record.Record, error) {
	dl := newDeadline(settings.MaxWaitSeconds)
	pollInterval := secondsToDuration(settings.PollFrequencySeconds)
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}

	savedSettings := in.settings
	in.settings = settings.EvalSettings
	defer func() { in.settings = savedSettings }()

	var last record.Record
	for {
		result, err := in.Evaluate(source, ctx)
		if err != nil {
			return result, err
		}
		last = result
		if result.IsTrue() {
			return last, nil
		}
		if dl.expired() {
			return last, nil
		}
		wait := pollInterval
		if dl.has {
			if rem := dl.remaining(); rem < wait {
				wait = rem
			}
		}
		if wait > 0 {
			ctx.WaitForChangeOrTimeout(wait)
		}
	}
}

type deadline struct {
	at  time.Time
	has bool
}

func newDeadline(maxSeconds float64) deadline {
	if maxSeconds <= 0 {
		return deadline{}
	}
	return deadline{at: time.Now().Add(time.Duration(maxSeconds * float64(time.Second))), has: true}
}

func (d deadline) expired() bool {
	if !d.has {
		return false
	}
	return !time.Now().Before(d.at)
}

func (d deadline) remaining() time.Duration {
	if !d.has {
		return time.Hour // effectively unbounded
	}
	return time.Until(d.at)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
