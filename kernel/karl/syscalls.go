package karl

import (
	"os"

	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
)

type syscallFn func(args []record.Record, ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error)

type syscallSpec struct {
	minArity, maxArity int // maxArity < 0 means unbounded
	fn                 syscallFn
}

var syscallTable = map[string]syscallSpec{
	"#expand_statement": {1, 1, func(args []record.Record, ctx *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		expanded, err := ctx.ExpandStatement(args[0].ToString())
		if err != nil {
			return record.Record{}, err
		}
		return record.NewString(expanded), nil
	}},
	"#fragment": {3, 3, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		return args[0].Fragment(int(args[1].ToInteger()), int(args[2].ToInteger())), nil
	}},
	"#set_precision": {0, 1, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		if len(args) == 0 {
			return record.NewInteger(int64(record.Precision())), nil
		}
		return record.NewInteger(int64(record.SetPrecision(int(args[0].ToInteger())))), nil
	}},
	"#set_fixed": {0, 0, func([]record.Record, *knowledgecontext.Context, *Interpreter) (record.Record, error) {
		record.SetFixed()
		return record.NewEmpty(), nil
	}},
	"#set_scientific": {0, 0, func([]record.Record, *knowledgecontext.Context, *Interpreter) (record.Record, error) {
		record.SetScientific()
		return record.NewEmpty(), nil
	}},
	"#read_file": {1, 2, func(args []record.Record, _ *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
		path := args[0].ToString()
		hint := record.BinaryRaw
		if len(args) == 2 {
			hint = hintToSubtype(args[1].ToString())
		}
		rec, err := record.ReadFile(path, hint)
		if err != nil {
			interp.logger.Warn("#read_file failed: " + err.Error())
			return record.NewEmpty(), nil
		}
		return rec, nil
	}},
	"#write_file": {2, 2, func(args []record.Record, _ *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
		path := args[1].ToString()
		if err := os.WriteFile(path, binaryBytes(args[0]), 0o644); err != nil {
			interp.logger.Warn("#write_file failed: " + err.Error())
			return record.NewInteger(0), nil
		}
		return record.NewInteger(1), nil
	}},
	"#size": {1, 1, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		return record.NewInteger(int64(args[0].Size())), nil
	}},
	"#to_integer": {1, 1, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		return record.NewInteger(args[0].ToInteger()), nil
	}},
	"#to_double": {1, 1, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		return record.NewDouble(args[0].ToDouble()), nil
	}},
	"#to_integers": {1, 1, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		return record.NewIntegerArray(args[0].ToIntegers()), nil
	}},
	"#to_doubles": {1, 1, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		return record.NewDoubleArray(args[0].ToDoubles()), nil
	}},
	"#to_string": {1, 1, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		return record.NewString(args[0].ToString()), nil
	}},
	"#to_buffer": {1, 1, func(args []record.Record, _ *knowledgecontext.Context, _ *Interpreter) (record.Record, error) {
		return record.NewBinary(binaryBytes(args[0]), record.BinaryRaw), nil
	}},
	"#print": {1, 1, func(args []record.Record, ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
		expanded, err := ctx.ExpandStatement(args[0].ToString())
		if err != nil {
			return record.Record{}, err
		}
		interp.logger.Info(expanded)
		return record.NewEmpty(), nil
	}},
}

func hintToSubtype(hint string) record.BinarySubtype {
	switch hint {
	case "jpeg", "jpg":
		return record.BinaryJPEG
	case "text", "txt":
		return record.BinaryText
	case "xml":
		return record.BinaryXML
	default:
		return record.BinaryUnknownFile
	}
}

func binaryBytes(r record.Record) []byte {
	return []byte(r.ToString())
}

// callSyscall dispatches a '#'-prefixed system call. An arity mismatch
// at runtime logs and returns Empty rather than erroring, per §4.3 ("user
// may dynamically inject args" — only compile-time prune treats an
// unknown name as fatal).
func callSyscall(name string, args []record.Record, ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	spec, ok := syscallTable[name]
	if !ok {
		interp.logger.Warn("call to unknown system call: " + name)
		return record.NewEmpty(), nil
	}
	if len(args) < spec.minArity || (spec.maxArity >= 0 && len(args) > spec.maxArity) {
		interp.logger.Warn("arity mismatch calling " + name)
		return record.NewEmpty(), nil
	}
	return spec.fn(args, ctx, interp)
}
