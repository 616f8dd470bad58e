// Package memory implements the tiered memory facade. Layers 1 and 2 are
// in-process key/value tiers (raw bytes and strings). Layer 4 is the
// semantic tier backed by the vector store and is reached only through
// Search/Upsert, never through Access. Layers 3 and 5 to 7 are declared but
// inert: reads return empty success and writes are accepted as no-ops.
// Callers must not infer persistence from a successful response on an
// inert tier.
package memory

import (
	"sync"

	"github.com/loomworks/loom/internal/events"
	"go.uber.org/zap"
)

// Layer bounds for Access.
const (
	MinLayer = 1
	MaxLayer = 7
)

// AccessResult mirrors the memory contract's response shape.
type AccessResult struct {
	Data    string `json:"data"`
	Success bool   `json:"success"`
}

// Facade is the process-wide tiered store. All access is serialized per
// tier map; last-writer-wins per key.
type Facade struct {
	mu     sync.RWMutex
	l1     map[string][]byte
	l2     map[string]string
	hub    *events.Hub
	logger *zap.Logger
}

// NewFacade creates an empty facade.
func NewFacade(hub *events.Hub, logger *zap.Logger) *Facade {
	return &Facade{
		l1:     make(map[string][]byte),
		l2:     make(map[string]string),
		hub:    hub,
		logger: logger,
	}
}

// Access reads (value == nil) or writes (value != nil) a key on one tier.
// Unknown layers fail; inert layers succeed without storing anything.
func (f *Facade) Access(layer int, key string, value *string) AccessResult {
	if layer < MinLayer || layer > MaxLayer {
		return AccessResult{Success: false}
	}

	switch layer {
	case 1:
		return f.accessL1(key, value)
	case 2:
		return f.accessL2(key, value)
	default:
		// Inert tier: accept silently. The event stream still records the
		// touch so offline audits can tell these apart from real writes.
		if value != nil {
			f.hub.Emit(events.MemoryWritten, "", "", map[string]any{
				"layer": layer, "key": key, "inert": true,
			})
		} else {
			f.hub.Emit(events.MemoryRead, "", "", map[string]any{
				"layer": layer, "key": key, "inert": true,
			})
		}
		return AccessResult{Data: "", Success: true}
	}
}

func (f *Facade) accessL1(key string, value *string) AccessResult {
	if value != nil {
		f.mu.Lock()
		f.l1[key] = []byte(*value)
		f.mu.Unlock()
		f.hub.Emit(events.MemoryWritten, "", "", map[string]any{"layer": 1, "key": key})
		return AccessResult{Success: true}
	}
	f.mu.RLock()
	data := f.l1[key]
	f.mu.RUnlock()
	f.hub.Emit(events.MemoryRead, "", "", map[string]any{"layer": 1, "key": key})
	return AccessResult{Data: string(data), Success: true}
}

func (f *Facade) accessL2(key string, value *string) AccessResult {
	if value != nil {
		f.mu.Lock()
		f.l2[key] = *value
		f.mu.Unlock()
		f.hub.Emit(events.MemoryWritten, "", "", map[string]any{"layer": 2, "key": key})
		return AccessResult{Success: true}
	}
	f.mu.RLock()
	data := f.l2[key]
	f.mu.RUnlock()
	f.hub.Emit(events.MemoryRead, "", "", map[string]any{"layer": 2, "key": key})
	return AccessResult{Data: data, Success: true}
}
