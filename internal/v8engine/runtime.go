//go:build v8

package v8engine

import (
	"fmt"
	"reflect"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/sqlbridge/internal/core"
)

// v8Runtime is the V8 side of core.JSRuntime. It lives for one run.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.JSRuntime = (*v8Runtime)(nil)

// Eval evaluates JavaScript and discards the result.
func (r *v8Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.ctx.RunScript(js, "eval_string.js")
	if err != nil || val == nil {
		return "", err
	}
	return val.String(), nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// argReader converts one JS argument into the Go parameter type.
type argReader func(*v8.Value) reflect.Value

func readerFor(t reflect.Type) (argReader, error) {
	switch t.Kind() {
	case reflect.String:
		return func(v *v8.Value) reflect.Value { return reflect.ValueOf(v.String()) }, nil
	case reflect.Int:
		return func(v *v8.Value) reflect.Value { return reflect.ValueOf(int(v.Integer())) }, nil
	case reflect.Float64:
		return func(v *v8.Value) reflect.Value { return reflect.ValueOf(v.Number()) }, nil
	case reflect.Bool:
		return func(v *v8.Value) reflect.Value { return reflect.ValueOf(v.Boolean()) }, nil
	}
	return nil, fmt.Errorf("unsupported parameter type %s", t)
}

// RegisterFunc binds fn as a global function. The parameter converters are
// resolved once here; a call only reflects to invoke fn.
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("registering %s: expected function, got %T", name, fn)
	}

	readers := make([]argReader, fnType.NumIn())
	for i := range readers {
		rd, err := readerFor(fnType.In(i))
		if err != nil {
			return fmt.Errorf("registering %s: argument %d: %w", name, i, err)
		}
		readers[i] = rd
	}
	numOut := fnType.NumOut()
	hasErr := numOut > 0 && fnType.Out(numOut-1) == errorType
	if numOut > 2 || (numOut == 2 && !hasErr) {
		return fmt.Errorf("registering %s: unsupported results %s", name, fnType)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < len(readers) {
			return r.throw(fmt.Sprintf("%s requires %d argument(s), got %d", name, len(readers), len(args)))
		}
		in := make([]reflect.Value, len(readers))
		for i, rd := range readers {
			in[i] = rd(args[i])
		}

		out := fnVal.Call(in)
		if hasErr {
			if err, _ := out[len(out)-1].Interface().(error); err != nil {
				return r.throw(fmt.Sprintf("calling %s: %s", name, err))
			}
			out = out[:len(out)-1]
		}
		if len(out) == 0 {
			return nil
		}
		return r.toJS(out[0])
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

func (r *v8Runtime) throw(msg string) *v8.Value {
	v, _ := v8.NewValue(r.iso, msg)
	return r.iso.ThrowException(v)
}

func (r *v8Runtime) toJS(val reflect.Value) *v8.Value {
	var (
		v   *v8.Value
		err error
	)
	switch val.Kind() {
	case reflect.String:
		v, err = v8.NewValue(r.iso, val.String())
	case reflect.Int, reflect.Int32, reflect.Int64:
		// int64 would become a BigInt.
		if n := val.Int(); n == int64(int32(n)) {
			v, err = v8.NewValue(r.iso, int32(n))
		} else {
			v, err = v8.NewValue(r.iso, float64(n))
		}
	case reflect.Float32, reflect.Float64:
		v, err = v8.NewValue(r.iso, val.Float())
	case reflect.Bool:
		v, err = v8.NewValue(r.iso, val.Bool())
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return v
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *v8Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}
