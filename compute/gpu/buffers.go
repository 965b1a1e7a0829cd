package gpu

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/mirror"
)

// ImageStore owns the textures behind image handles. A texture is created the
// first time its handle is seen and kept for the rest of the run.
type ImageStore struct {
	device      Device
	textures    map[uuid.UUID]TextureID
	allocations int
}

func NewImageStore(device Device) *ImageStore {
	return &ImageStore{device: device, textures: make(map[uuid.UUID]TextureID)}
}

// Prepare returns the texture for ref, creating it if the handle is new.
func (s *ImageStore) Prepare(label string, ref core.ImageRef, format TextureFormat, usage TextureUsage) (TextureID, error) {
	if ref.IsZero() {
		return 0, fmt.Errorf("%s image: %w", label, ErrUnsetResource)
	}
	if id, ok := s.textures[ref.Handle]; ok {
		return id, nil
	}
	id, err := s.device.CreateTexture(TextureDesc{
		Label:  label,
		Width:  ref.Width,
		Height: ref.Height,
		Format: format,
		Usage:  usage,
	})
	if err != nil {
		return 0, fmt.Errorf("create %s texture: %w", label, err)
	}
	s.textures[ref.Handle] = id
	s.allocations++
	return id, nil
}

// Resolve looks up a handle without allocating.
func (s *ImageStore) Resolve(handle uuid.UUID) (TextureID, bool) {
	id, ok := s.textures[handle]
	return id, ok
}

func (s *ImageStore) Allocations() int { return s.allocations }

const (
	particleUsage = BufferUsageStorage | BufferUsageCopyDst | BufferUsageCopySrc
	previousUsage = BufferUsageStorage | BufferUsageCopyDst
	colourUsage   = BufferUsageUniform | BufferUsageCopyDst
	weightsUsage  = TextureUsageStorageBinding | TextureUsageTextureBinding | TextureUsageCopyDst
	outputUsage   = TextureUsageStorageBinding | TextureUsageTextureBinding | TextureUsageCopySrc
)

// BufferManager owns the GPU copies of the particle set, the palette and the
// weights image. Every upload rewrites each of them in full.
type BufferManager struct {
	Device Device
	Images *ImageStore

	ParticlesBuf BufferID
	PreviousBuf  BufferID
	ColoursBuf   BufferID

	allocations   int
	uploadedBytes uint64

	particleBytes []byte
	colourBytes   []byte
	weightBytes   []byte
}

func NewBufferManager(device Device) *BufferManager {
	return &BufferManager{
		Device:        device,
		Images:        NewImageStore(device),
		particleBytes: make([]byte, core.ParticleSetSize),
		colourBytes:   make([]byte, core.ColoursSize),
		weightBytes:   make([]byte, core.WeightsSize),
	}
}

// EnsureAllocated creates the particle and colour buffers if they do not exist yet.
func (m *BufferManager) EnsureAllocated() error {
	if err := m.ensureBuffer("ParticlesBuf", &m.ParticlesBuf, core.ParticleSetSize, particleUsage); err != nil {
		return err
	}
	if err := m.ensureBuffer("PreviousBuf", &m.PreviousBuf, core.ParticleSetSize, previousUsage); err != nil {
		return err
	}
	return m.ensureBuffer("ColoursBuf", &m.ColoursBuf, core.ColoursSize, colourUsage)
}

func (m *BufferManager) ensureBuffer(name string, buf *BufferID, size uint64, usage BufferUsage) error {
	if *buf != 0 {
		return nil
	}
	id, err := m.Device.CreateBuffer(BufferDesc{Label: name, Size: size, Usage: usage})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	*buf = id
	m.allocations++
	return nil
}

// Upload allocates anything missing and overwrites every GPU copy with snap.
// It returns the resources to bind for this frame.
func (m *BufferManager) Upload(snap *mirror.Snapshot) (Resources, error) {
	if err := m.EnsureAllocated(); err != nil {
		return Resources{}, err
	}
	weightsTex, err := m.Images.Prepare("weights", snap.Images.Weights, TextureFormatR32Float, weightsUsage)
	if err != nil {
		return Resources{}, err
	}
	outputTex, err := m.Images.Prepare("output", snap.Images.Output, TextureFormatRGBA8Unorm, outputUsage)
	if err != nil {
		return Resources{}, err
	}

	snap.Particles.Encode(m.particleBytes)
	snap.Colours.Encode(m.colourBytes)
	snap.Weights.Encode(m.weightBytes)

	if err := m.Device.WriteBuffer(m.ParticlesBuf, 0, m.particleBytes); err != nil {
		return Resources{}, fmt.Errorf("write ParticlesBuf: %w", err)
	}
	if err := m.Device.WriteBuffer(m.PreviousBuf, 0, m.particleBytes); err != nil {
		return Resources{}, fmt.Errorf("write PreviousBuf: %w", err)
	}
	if err := m.Device.WriteBuffer(m.ColoursBuf, 0, m.colourBytes); err != nil {
		return Resources{}, fmt.Errorf("write ColoursBuf: %w", err)
	}
	if err := m.Device.WriteTexture(weightsTex, m.weightBytes); err != nil {
		return Resources{}, fmt.Errorf("write weights texture: %w", err)
	}
	m.uploadedBytes += uint64(2*len(m.particleBytes) + len(m.colourBytes) + len(m.weightBytes))

	return Resources{
		Particles: m.ParticlesBuf,
		Previous:  m.PreviousBuf,
		Colours:   m.ColoursBuf,
		Weights:   weightsTex,
		Output:    outputTex,
	}, nil
}

// Allocations counts buffer and texture creations so far.
func (m *BufferManager) Allocations() int {
	return m.allocations + m.Images.Allocations()
}

// UploadedBytes is the running total written by Upload.
func (m *BufferManager) UploadedBytes() uint64 {
	return m.uploadedBytes
}
