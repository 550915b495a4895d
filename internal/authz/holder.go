package authz

import (
	"errors"
	"sync/atomic"
)

// Holder publishes the current Engine to concurrent readers. Reloads swap in a
// freshly built engine; a live engine is never mutated.
type Holder struct {
	current atomic.Pointer[Engine]
}

// NewHolder returns a Holder publishing engine.
func NewHolder(engine *Engine) *Holder {
	h := &Holder{}
	if engine != nil {
		h.current.Store(engine)
	}
	return h
}

// Engine returns the engine currently in effect.
func (h *Holder) Engine() *Engine {
	return h.current.Load()
}

// Reload builds an engine from spec and publishes it. On error the previous
// engine stays in effect.
func (h *Holder) Reload(spec CatalogSpec) (*Engine, error) {
	engine, err := New(spec)
	if err != nil {
		return nil, err
	}
	h.current.Store(engine)
	return engine, nil
}

// Swap publishes engine and returns the one it replaced.
func (h *Holder) Swap(engine *Engine) (*Engine, error) {
	if engine == nil {
		return nil, errors.New("authz: nil engine")
	}
	return h.current.Swap(engine), nil
}
