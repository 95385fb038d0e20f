package speech

import (
	"context"
	"sync"

	"github.com/opd-ai/phonecheck/interfaces"
)

// Guarded serialises calls to a transcriber that holds mutable state, such
// as a loaded model. The lock is held only inside Transcribe.
type Guarded struct {
	mu    sync.Mutex
	inner interfaces.ITranscriber
}

// NewGuarded wraps inner.
func NewGuarded(inner interfaces.ITranscriber) *Guarded {
	return &Guarded{inner: inner}
}

// Transcribe implements ITranscriber.
func (g *Guarded) Transcribe(ctx context.Context, samples []float32) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Transcribe(ctx, samples)
}

// Name implements ITranscriber.
func (g *Guarded) Name() string {
	return g.inner.Name()
}
