// Package filter provides sample filter expressions using expr-lang/expr.
// Expressions see the decoded sample's fields and must evaluate to a bool,
// e.g. "va > 2.5 && vb < 1.0".
package filter

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/voltscope/voltscope/pkg/model"
)

// SampleEnv is the environment visible to filter expressions.
type SampleEnv struct {
	T       float64 `expr:"t"`       // wall-clock timestamp, Unix seconds
	Elapsed float64 `expr:"elapsed"` // stream time since connect
	VA      float64 `expr:"va"`      // vertical channel voltage
	VB      float64 `expr:"vb"`      // horizontal channel voltage
}

// Compile compiles a filter expression into a match function.
func Compile(src string) (func(model.Sample) bool, error) {
	program, err := expr.Compile(src, expr.Env(SampleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", src, err)
	}

	return func(s model.Sample) bool {
		env := SampleEnv{
			T:       s.Timestamp,
			Elapsed: s.Elapsed,
			VA:      s.Vertical,
			VB:      s.Horizontal,
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return false
		}
		match, ok := out.(bool)
		return ok && match
	}, nil
}
