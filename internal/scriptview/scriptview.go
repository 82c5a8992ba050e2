// Package scriptview implements schema.View[string] by running a
// user-supplied JavaScript module inside an isolated goja runtime. Each
// View owns exactly one VM and one goroutine: every data()/relevant() call
// is marshalled onto that goroutine through a callback queue, because a
// goja.Runtime must never be touched from more than one goroutine at a
// time. The pattern is lifted from the teacher's strategy-instance VM
// queue, generalized from "call a named export" to the two fixed exports
// this package requires: "data" and "relevant".
package scriptview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/coachpo/viewhub/internal/schema"
)

// ErrExportMissing is returned when the script does not export the
// required function.
var ErrExportMissing = errors.New("scriptview: export missing")

// ErrClosed is returned by Execute once the instance has been closed.
var ErrClosed = errors.New("scriptview: instance closed")

// Instance is an isolated goja VM plus the goroutine that owns it.
type Instance struct {
	rt     *goja.Runtime
	export *goja.Object
	queue  chan func(*goja.Runtime)
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewInstance compiles and runs the given source (expected to set
// properties on the global "module.exports" object, Node-module style) and
// starts the VM's owning goroutine.
func NewInstance(source, sourceName string) (*Instance, error) {
	program, err := goja.Compile(sourceName, source, false)
	if err != nil {
		return nil, fmt.Errorf("scriptview: compile %s: %w", sourceName, err)
	}

	rt := goja.New()
	exportsObj := rt.NewObject()
	moduleObj := rt.NewObject()
	if err := moduleObj.Set("exports", exportsObj); err != nil {
		return nil, fmt.Errorf("scriptview: seed module object: %w", err)
	}
	if err := rt.Set("module", moduleObj); err != nil {
		return nil, fmt.Errorf("scriptview: seed module global: %w", err)
	}
	if err := rt.Set("exports", exportsObj); err != nil {
		return nil, fmt.Errorf("scriptview: seed exports global: %w", err)
	}

	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("scriptview: execute %s: %w", sourceName, err)
	}
	exports, ok := moduleObj.Get("exports").(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("scriptview: %s did not produce a module.exports object", sourceName)
	}

	inst := &Instance{
		rt:     rt,
		export: exports,
		queue:  make(chan func(*goja.Runtime)),
	}
	inst.wg.Add(1)
	go inst.loop()
	return inst, nil
}

func (i *Instance) loop() {
	defer i.wg.Done()
	for cb := range i.queue {
		cb(i.rt)
	}
}

type result struct {
	value goja.Value
	err   error
}

// call invokes the named export with args, marshalled onto the VM
// goroutine.
func (i *Instance) call(name string, args ...any) (goja.Value, error) {
	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return nil, ErrClosed
	}

	wait := make(chan result, 1)
	i.queue <- func(rt *goja.Runtime) {
		wait <- i.callOn(rt, name, args)
	}
	i.mu.RUnlock()

	out := <-wait
	return out.value, out.err
}

func (i *Instance) callOn(rt *goja.Runtime, name string, args []any) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Errorf("scriptview: %s panicked: %v", name, r)}
		}
	}()
	value := i.export.Get(name)
	if goja.IsUndefined(value) || goja.IsNull(value) {
		return result{err: fmt.Errorf("%w: %s", ErrExportMissing, name)}
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return result{err: fmt.Errorf("scriptview: export %q is not callable", name)}
	}

	jsArgs := make([]goja.Value, len(args))
	for idx, a := range args {
		jsArgs[idx] = rt.ToValue(a)
	}
	val, err := fn(goja.Undefined(), jsArgs...)
	return result{value: val, err: err}
}

// Close stops the VM goroutine. Close is idempotent.
func (i *Instance) Close() {
	i.once.Do(func() {
		i.mu.Lock()
		i.closed = true
		close(i.queue)
		i.mu.Unlock()
		i.wg.Wait()
	})
}

// View adapts a scripted Instance to schema.View[string]. The script must
// export "data(namespace, parameters) -> value" and
// "relevant(namespace, parameters, hints) -> bool".
type View struct {
	id       schema.ViewID
	instance *Instance
}

// New constructs a scripted view identified by id, backed by the compiled
// source.
func New(id schema.ViewID, source, sourceName string) (*View, error) {
	inst, err := NewInstance(source, sourceName)
	if err != nil {
		return nil, err
	}
	return &View{id: id, instance: inst}, nil
}

// ID implements schema.View[string].
func (v *View) ID() schema.ViewID { return v.id }

// Data implements schema.View[string] by calling the script's "data" export.
func (v *View) Data(_ context.Context, namespace string, params schema.Parameters) (any, error) {
	val, err := v.instance.call("data", namespace, []any(params))
	if err != nil {
		return nil, err
	}
	return val.Export(), nil
}

// Relevant implements schema.View[string] by calling the script's
// "relevant" export.
func (v *View) Relevant(namespace string, params schema.Parameters, hints []schema.Hint[string]) bool {
	hintPayloads := make([]any, len(hints))
	for i, h := range hints {
		hintPayloads[i] = map[string]any{
			"namespace": h.Namespace,
			"payload":   h.Payload,
			"type":      string(h.Type),
		}
	}
	val, err := v.instance.call("relevant", namespace, []any(params), hintPayloads)
	if err != nil {
		return false
	}
	return val.ToBoolean()
}

// Close releases the script's VM goroutine.
func (v *View) Close() { v.instance.Close() }
