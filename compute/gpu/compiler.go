package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type ProgramStatus int

const (
	ProgramPending ProgramStatus = iota
	ProgramReady
	ProgramFailed
)

func (s ProgramStatus) String() string {
	switch s {
	case ProgramPending:
		return "pending"
	case ProgramReady:
		return "ready"
	case ProgramFailed:
		return "failed"
	}
	return "unknown"
}

// ProgramHandle is returned by Queue before the program exists.
type ProgramHandle int

type programSlot struct {
	desc   ProgramDesc
	status ProgramStatus
	id     ProgramID
	err    error
	done   chan struct{}
}

// PipelineCompiler compiles compute programs in the background. Requests with
// the same entry point, layout and source text share one compilation.
type PipelineCompiler struct {
	device Device

	mu    sync.RWMutex
	slots []*programSlot
	byKey map[string]ProgramHandle
}

func NewPipelineCompiler(device Device) *PipelineCompiler {
	return &PipelineCompiler{
		device: device,
		byKey:  make(map[string]ProgramHandle),
	}
}

// Queue starts compiling desc and returns immediately.
func (c *PipelineCompiler) Queue(desc ProgramDesc) ProgramHandle {
	key := programKey(desc)

	c.mu.Lock()
	if h, ok := c.byKey[key]; ok {
		c.mu.Unlock()
		return h
	}
	slot := &programSlot{desc: desc, done: make(chan struct{})}
	h := ProgramHandle(len(c.slots))
	c.slots = append(c.slots, slot)
	c.byKey[key] = h
	c.mu.Unlock()

	go c.compile(slot)
	return h
}

// programKey includes a hash of the source so that programs built from
// different constants never share a handle.
func programKey(desc ProgramDesc) string {
	return fmt.Sprintf("%s@%d#%016x", desc.Key(), desc.Layout, xxhash.Sum64String(desc.Source))
}

func (c *PipelineCompiler) compile(slot *programSlot) {
	id, err := c.device.CreateComputeProgram(slot.desc)

	c.mu.Lock()
	if err != nil {
		slot.status = ProgramFailed
		slot.err = fmt.Errorf("%w: %s: %w", ErrProgramFailed, slot.desc.Key(), err)
	} else {
		slot.status = ProgramReady
		slot.id = id
	}
	c.mu.Unlock()
	close(slot.done)
}

// Status reports the compilation state of h. The error is set only when Failed.
func (c *PipelineCompiler) Status(h ProgramHandle) (ProgramStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(h) < 0 || int(h) >= len(c.slots) {
		return ProgramFailed, fmt.Errorf("%w: unknown program handle %d", ErrProgramFailed, h)
	}
	s := c.slots[h]
	return s.status, s.err
}

// Program returns the compiled program for h once it is Ready.
func (c *PipelineCompiler) Program(h ProgramHandle) (ProgramID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(h) < 0 || int(h) >= len(c.slots) {
		return 0, false
	}
	s := c.slots[h]
	return s.id, s.status == ProgramReady
}

// Describe returns the request behind h.
func (c *PipelineCompiler) Describe(h ProgramHandle) ProgramDesc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(h) < 0 || int(h) >= len(c.slots) {
		return ProgramDesc{}
	}
	return c.slots[h].desc
}

// Wait blocks until every queued program has left Pending, or ctx ends.
func (c *PipelineCompiler) Wait(ctx context.Context) error {
	c.mu.RLock()
	pending := make([]chan struct{}, 0, len(c.slots))
	for _, s := range c.slots {
		pending = append(pending, s.done)
	}
	c.mu.RUnlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
