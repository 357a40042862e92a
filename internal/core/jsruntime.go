package core

// JSRuntime is the engine surface the host binding needs. QuickJS and V8
// both implement it; every method must be called on the goroutine that owns
// the VM.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// RegisterFunc exposes a Go function as a global. Arguments and results
	// are limited to string, int, float64 and bool. A trailing error result
	// is thrown as a TypeError instead of being returned.
	RegisterFunc(name string, fn any) error

	// RunMicrotasks pumps the microtask queue until it is empty.
	RunMicrotasks()
}
