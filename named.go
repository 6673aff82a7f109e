package pipe

import (
	"context"
	"sync"
)

// NamedPipe maps symbolic names to step sequences and runs a selected
// sequence through the embedded Pipe executor.
//
// Looking up an unknown name is not an error: it yields an empty sequence,
// so RunPipe returns the after hook applied to the current store unchanged.
// Callers must treat an unknown name as a no-op, not a failure signal.
//
// Example:
//
//	np := pipe.NewNamedPipe("images", map[string]any{"path": in},
//	    map[pipe.Name][]pipe.Step{
//	        "crop": {extractImage, cropImage, saveImage},
//	    },
//	)
//	out, err := np.RunPipe(ctx, "crop")
type NamedPipe struct {
	*Pipe
	mu     sync.RWMutex
	schema map[Name][]Step
}

// NewNamedPipe creates a NamedPipe over an initial mapping and a schema.
// The schema's sequences are copied; the caller's slices are not retained.
func NewNamedPipe(name Name, initial map[string]any, schema map[Name][]Step, opts ...PipeOption) *NamedPipe {
	copied := make(map[Name][]Step, len(schema))
	for k, seq := range schema {
		steps := make([]Step, len(seq))
		copy(steps, seq)
		copied[k] = steps
	}
	return &NamedPipe{
		Pipe:   NewPipe(name, initial, opts...),
		schema: copied,
	}
}

// RunPipe looks up the sequence registered under name and delegates to the
// executor. A missing name runs the empty sequence.
func (n *NamedPipe) RunPipe(ctx context.Context, name Name) (Store, error) {
	n.mu.RLock()
	steps := n.schema[name]
	n.mu.RUnlock()
	return n.Run(ctx, steps)
}

// Register adds or replaces the sequence for name.
func (n *NamedPipe) Register(name Name, steps ...Step) {
	copied := make([]Step, len(steps))
	copy(copied, steps)
	n.mu.Lock()
	n.schema[name] = copied
	n.mu.Unlock()
}

// Sequences returns the registered sequence names, in no particular order.
func (n *NamedPipe) Sequences() []Name {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]Name, 0, len(n.schema))
	for name := range n.schema {
		names = append(names, name)
	}
	return names
}
