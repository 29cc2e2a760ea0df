package knowledgecontext

import (
	"fmt"
	"strings"

	"github.com/ssabatier/madara/kernel/record"
)

// ExpressionEvaluator is implemented by karl.Interpreter. Splitting it
// out here, rather than having ExpandStatement call into karl directly,
// avoids the same import cycle Function sidesteps: karl.Node needs
// *Context, so Context cannot import karl.
type ExpressionEvaluator interface {
	Evaluate(source string, ctx *Context) (record.Record, error)
}

// SetEvaluator installs the expression evaluator used by ExpandStatement
// to run the "{...}" segments of a template. The karl package's
// Interpreter.Evaluate satisfies ExpressionEvaluator; wiring happens once
// at startup, not per call, so most Contexts never pay for an import of
// karl at all.
func (c *Context) SetEvaluator(ev ExpressionEvaluator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluator = ev
}

// ExpandStatement replaces every "{expr}" segment of statement with the
// string form of evaluating expr against this Context (§4.2's
// expand_statement / KnowledgeReferenceSettings.ExpandVariables).
// Segments nest: "{outer_{inner}}" expands "{inner}" first and evaluates
// the result as the outer expression. An unclosed "{" is a parse error.
// A segment whose contents fail to evaluate is left verbatim, bracketed
// by its original braces, rather than aborting the whole expansion. With
// no evaluator installed, statement is returned unchanged regardless of
// brace balance: expansion cannot happen at all without one, so there is
// nothing to validate.
func (c *Context) ExpandStatement(statement string) (string, error) {
	c.mu.RLock()
	ev := c.evaluator
	c.mu.RUnlock()
	if ev == nil {
		return statement, nil
	}
	return expandWith(statement, c, ev)
}

func expandWith(statement string, c *Context, ev ExpressionEvaluator) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(statement) {
		if statement[i] != '{' {
			out.WriteByte(statement[i])
			i++
			continue
		}

		depth := 1
		j := i + 1
		for j < len(statement) && depth > 0 {
			switch statement[j] {
			case '{':
				depth++
			case '}':
				depth--
			}
			if depth > 0 {
				j++
			}
		}
		if depth != 0 {
			return "", fmt.Errorf("knowledgecontext: unbalanced '{' at offset %d in %q", i, statement)
		}

		inner := statement[i+1 : j]
		expanded, err := expandWith(inner, c, ev)
		if err != nil {
			return "", err
		}
		val, err := ev.Evaluate(expanded, c)
		if err != nil {
			out.WriteByte('{')
			out.WriteString(inner)
			out.WriteByte('}')
		} else {
			out.WriteString(val.ToString())
		}
		i = j + 1
	}
	return out.String(), nil
}
