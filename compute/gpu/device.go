package gpu

import (
	"errors"
)

// Opaque resource handles. Each Device keeps its own mapping from ID to backend object.
// The zero value of every ID is invalid.
type (
	BufferID          uint64
	TextureID         uint64
	BindGroupLayoutID uint64
	BindGroupID       uint64
	ProgramID         uint64
)

type BufferUsage uint32

const (
	BufferUsageMapRead BufferUsage = 1 << iota
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageUniform
	BufferUsageStorage
)

type TextureUsage uint32

const (
	TextureUsageCopySrc TextureUsage = 1 << iota
	TextureUsageCopyDst
	TextureUsageTextureBinding
	TextureUsageStorageBinding
)

type TextureFormat uint32

const (
	TextureFormatUndefined TextureFormat = iota
	TextureFormatRGBA8Unorm
	TextureFormatR32Float
)

// BytesPerTexel returns the texel size of f, or 0 if unknown.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case TextureFormatRGBA8Unorm, TextureFormatR32Float:
		return 4
	}
	return 0
}

func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	case TextureFormatR32Float:
		return "r32float"
	}
	return "undefined"
}

// BindingType is the shape of one bind group layout slot, as seen from a compute shader.
type BindingType uint32

const (
	BindingUniformBuffer BindingType = iota + 1
	BindingStorageBuffer
	BindingReadOnlyStorageBuffer
	BindingReadOnlyStorageTexture
	BindingWriteOnlyStorageTexture
)

func (t BindingType) IsBuffer() bool {
	return t == BindingUniformBuffer || t == BindingStorageBuffer || t == BindingReadOnlyStorageBuffer
}

func (t BindingType) String() string {
	switch t {
	case BindingUniformBuffer:
		return "uniform"
	case BindingStorageBuffer:
		return "storage"
	case BindingReadOnlyStorageBuffer:
		return "read-only-storage"
	case BindingReadOnlyStorageTexture:
		return "read-only-storage-texture"
	case BindingWriteOnlyStorageTexture:
		return "write-only-storage-texture"
	}
	return "unknown"
}

type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

type TextureDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format TextureFormat
	Usage  TextureUsage
}

type BindGroupLayoutEntry struct {
	Binding uint32
	Type    BindingType
	// MinBindingSize applies to buffer slots.
	MinBindingSize uint64
	// Format applies to storage texture slots.
	Format TextureFormat
}

type BindGroupLayoutDesc struct {
	Label   string
	Entries []BindGroupLayoutEntry
}

// BindGroupEntry binds exactly one of Buffer or Texture to a slot.
type BindGroupEntry struct {
	Binding uint32
	Buffer  BufferID
	Texture TextureID
}

type BindGroupDesc struct {
	Label   string
	Layout  BindGroupLayoutID
	Entries []BindGroupEntry
}

// ProgramDesc describes one compute entry point of a WGSL module.
type ProgramDesc struct {
	Label string
	// Module names the program family (e.g. "simulation"), EntryPoint the function.
	Module     string
	Source     string
	EntryPoint string
	Layout     BindGroupLayoutID
}

// Key identifies the program independent of its source text.
func (d ProgramDesc) Key() string {
	return d.Module + "." + d.EntryPoint
}

// Pass is one compute dispatch recorded into a frame.
type Pass struct {
	Label     string
	Program   ProgramID
	BindGroup BindGroupID
	X, Y, Z   uint32
}

// Readback is a pending non-blocking copy of a buffer back to host memory.
type Readback interface {
	// Poll returns the data once the copy has completed. It never blocks.
	Poll() (data []byte, done bool, err error)
}

// Limits reports the capabilities relevant to the particle pipeline.
type Limits struct {
	MaxComputeWorkgroupsPerDimension uint32
	MaxStorageBufferBindingSize      uint64
}

// Device is the backend-neutral compute device the pipeline drives.
// CreateComputeProgram may block while the backend compiles; callers wanting
// asynchronous compilation go through PipelineCompiler.
type Device interface {
	Name() string
	Limits() Limits

	CreateBuffer(desc BufferDesc) (BufferID, error)
	WriteBuffer(id BufferID, offset uint64, data []byte) error
	CreateTexture(desc TextureDesc) (TextureID, error)
	WriteTexture(id TextureID, data []byte) error
	CreateBindGroupLayout(desc BindGroupLayoutDesc) (BindGroupLayoutID, error)
	CreateBindGroup(desc BindGroupDesc) (BindGroupID, error)
	ReleaseBindGroup(id BindGroupID)
	CreateComputeProgram(desc ProgramDesc) (ProgramID, error)

	// Submit records passes into one command buffer, in order, and queues it.
	Submit(passes []Pass) error

	// ReadBuffer blocks until the buffer contents are available on the host.
	ReadBuffer(id BufferID) ([]byte, error)
	// RequestReadback starts a non-blocking copy of the buffer.
	RequestReadback(id BufferID) (Readback, error)
	// ReadTexture blocks until the texture contents are available, tightly packed.
	ReadTexture(id TextureID) ([]byte, error)

	Release()
}

var (
	ErrUnknownResource = errors.New("gpu: unknown resource")
	ErrUnsetResource   = errors.New("gpu: resource handle not set")
	ErrProgramFailed   = errors.New("gpu: program compilation failed")
	ErrLayoutMismatch  = errors.New("gpu: binding does not match layout")
)
