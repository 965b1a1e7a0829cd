package gpu

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/gogpu/naga"
)

// Kernel is the host implementation of one compute entry point.
type Kernel func(inv *Invocation) error

// SoftTexture is a tightly packed host texture.
type SoftTexture struct {
	Width  uint32
	Height uint32
	Format TextureFormat
	Usage  TextureUsage
	Pix    []byte
}

type softBuffer struct {
	desc BufferDesc
	data []byte
}

type softBindGroup struct {
	layout  BindGroupLayoutID
	entries map[uint32]BindGroupEntry
}

type softProgram struct {
	desc   ProgramDesc
	kernel Kernel
}

// DispatchRecord is one pass executed by the software device.
type DispatchRecord struct {
	Label   string
	Program string
	X, Y, Z uint32
}

// Invocation gives a kernel access to the resources of its bind group.
type Invocation struct {
	Groups [3]uint32

	dev   *SoftwareDevice
	group *softBindGroup
}

// Buffer returns the live storage behind a buffer binding.
func (inv *Invocation) Buffer(binding uint32) ([]byte, error) {
	e, ok := inv.group.entries[binding]
	if !ok || e.Buffer == 0 {
		return nil, fmt.Errorf("binding %d: %w", binding, ErrUnsetResource)
	}
	b, ok := inv.dev.buffers[e.Buffer]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", e.Buffer, ErrUnknownResource)
	}
	return b.data, nil
}

// Texture returns the live storage behind a texture binding.
func (inv *Invocation) Texture(binding uint32) (*SoftTexture, error) {
	e, ok := inv.group.entries[binding]
	if !ok || e.Texture == 0 {
		return nil, fmt.Errorf("binding %d: %w", binding, ErrUnsetResource)
	}
	t, ok := inv.dev.textures[e.Texture]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", e.Texture, ErrUnknownResource)
	}
	return t, nil
}

// Invocations is the number of invocations along x given a work-group width.
func (inv *Invocation) Invocations(groupWidth uint32) int {
	if inv.Groups[1] == 0 || inv.Groups[2] == 0 {
		return 0
	}
	return int(inv.Groups[0] * groupWidth)
}

type SoftwareOption func(*SoftwareDevice)

// WithKernels registers kernels by "module.entry" key.
func WithKernels(kernels map[string]Kernel) SoftwareOption {
	return func(d *SoftwareDevice) {
		for k, v := range kernels {
			d.kernels[k] = v
		}
	}
}

// WithValidator replaces the program source check run at compile time.
func WithValidator(validate func(ProgramDesc) error) SoftwareOption {
	return func(d *SoftwareDevice) { d.validate = validate }
}

func WithLimits(l Limits) SoftwareOption {
	return func(d *SoftwareDevice) { d.limits = l }
}

// SoftwareDevice runs the pipeline in host memory. WGSL sources are checked
// with naga and each entry point executes its registered Go kernel.
type SoftwareDevice struct {
	mu     sync.Mutex
	nextID uint64

	buffers  map[BufferID]*softBuffer
	textures map[TextureID]*SoftTexture
	layouts  map[BindGroupLayoutID]BindGroupLayoutDesc
	groups   map[BindGroupID]*softBindGroup
	programs map[ProgramID]*softProgram

	kernels  map[string]Kernel
	validate func(ProgramDesc) error
	limits   Limits

	dispatches       []DispatchRecord
	submits          int
	releasedGroups   int
	bufferCreations  int
	textureCreations int
}

func NewSoftwareDevice(opts ...SoftwareOption) *SoftwareDevice {
	d := &SoftwareDevice{
		buffers:  make(map[BufferID]*softBuffer),
		textures: make(map[TextureID]*SoftTexture),
		layouts:  make(map[BindGroupLayoutID]BindGroupLayoutDesc),
		groups:   make(map[BindGroupID]*softBindGroup),
		programs: make(map[ProgramID]*softProgram),
		kernels:  make(map[string]Kernel),
		validate: ValidateWGSL,
		limits: Limits{
			MaxComputeWorkgroupsPerDimension: 65535,
			MaxStorageBufferBindingSize:      128 << 20,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *SoftwareDevice) Name() string   { return "software" }
func (d *SoftwareDevice) Limits() Limits { return d.limits }

func (d *SoftwareDevice) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *SoftwareDevice) CreateBuffer(desc BufferDesc) (BufferID, error) {
	if desc.Size == 0 {
		return 0, fmt.Errorf("buffer %q: zero size", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := BufferID(d.id())
	d.buffers[id] = &softBuffer{desc: desc, data: make([]byte, desc.Size)}
	d.bufferCreations++
	return id, nil
}

func (d *SoftwareDevice) WriteBuffer(id BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	if b.desc.Usage&BufferUsageCopyDst == 0 {
		return fmt.Errorf("buffer %q is not a copy destination", b.desc.Label)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("buffer %q: write of %d bytes at %d overflows %d", b.desc.Label, len(data), offset, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (d *SoftwareDevice) CreateTexture(desc TextureDesc) (TextureID, error) {
	bpp := desc.Format.BytesPerTexel()
	if bpp == 0 || desc.Width == 0 || desc.Height == 0 {
		return 0, fmt.Errorf("texture %q: invalid %dx%d %s", desc.Label, desc.Width, desc.Height, desc.Format)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := TextureID(d.id())
	d.textures[id] = &SoftTexture{
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
		Usage:  desc.Usage,
		Pix:    make([]byte, int(desc.Width)*int(desc.Height)*bpp),
	}
	d.textureCreations++
	return id, nil
}

func (d *SoftwareDevice) WriteTexture(id TextureID, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	if t.Usage&TextureUsageCopyDst == 0 {
		return fmt.Errorf("texture %d is not a copy destination", id)
	}
	if len(data) != len(t.Pix) {
		return fmt.Errorf("texture %d: expected %d bytes, got %d", id, len(t.Pix), len(data))
	}
	copy(t.Pix, data)
	return nil
}

func (d *SoftwareDevice) CreateBindGroupLayout(desc BindGroupLayoutDesc) (BindGroupLayoutID, error) {
	seen := make(map[uint32]bool, len(desc.Entries))
	for _, e := range desc.Entries {
		if seen[e.Binding] {
			return 0, fmt.Errorf("layout %q: duplicate binding %d", desc.Label, e.Binding)
		}
		seen[e.Binding] = true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := BindGroupLayoutID(d.id())
	d.layouts[id] = desc
	return id, nil
}

func (d *SoftwareDevice) CreateBindGroup(desc BindGroupDesc) (BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	layout, ok := d.layouts[desc.Layout]
	if !ok {
		return 0, fmt.Errorf("bind group %q layout %d: %w", desc.Label, desc.Layout, ErrUnknownResource)
	}
	entries := make(map[uint32]BindGroupEntry, len(desc.Entries))
	for _, e := range desc.Entries {
		entries[e.Binding] = e
	}
	if len(entries) != len(layout.Entries) {
		return 0, fmt.Errorf("bind group %q: %d entries for %d slots: %w", desc.Label, len(entries), len(layout.Entries), ErrLayoutMismatch)
	}
	for _, slot := range layout.Entries {
		e, ok := entries[slot.Binding]
		if !ok {
			return 0, fmt.Errorf("bind group %q: binding %d: %w", desc.Label, slot.Binding, ErrUnsetResource)
		}
		if err := d.checkEntry(slot, e); err != nil {
			return 0, fmt.Errorf("bind group %q: binding %d: %w", desc.Label, slot.Binding, err)
		}
	}

	id := BindGroupID(d.id())
	d.groups[id] = &softBindGroup{layout: desc.Layout, entries: entries}
	return id, nil
}

func (d *SoftwareDevice) checkEntry(slot BindGroupLayoutEntry, e BindGroupEntry) error {
	if slot.Type.IsBuffer() {
		b, ok := d.buffers[e.Buffer]
		if !ok {
			return ErrUnsetResource
		}
		if uint64(len(b.data)) < slot.MinBindingSize {
			return fmt.Errorf("buffer %q smaller than %d bytes: %w", b.desc.Label, slot.MinBindingSize, ErrLayoutMismatch)
		}
		want := BufferUsageStorage
		if slot.Type == BindingUniformBuffer {
			want = BufferUsageUniform
		}
		if b.desc.Usage&want == 0 {
			return fmt.Errorf("buffer %q lacks %s usage: %w", b.desc.Label, slot.Type, ErrLayoutMismatch)
		}
		return nil
	}
	t, ok := d.textures[e.Texture]
	if !ok {
		return ErrUnsetResource
	}
	if t.Format != slot.Format {
		return fmt.Errorf("texture format %s, layout wants %s: %w", t.Format, slot.Format, ErrLayoutMismatch)
	}
	if t.Usage&TextureUsageStorageBinding == 0 {
		return fmt.Errorf("texture lacks storage binding usage: %w", ErrLayoutMismatch)
	}
	return nil
}

func (d *SoftwareDevice) ReleaseBindGroup(id BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[id]; ok {
		delete(d.groups, id)
		d.releasedGroups++
	}
}

func (d *SoftwareDevice) CreateComputeProgram(desc ProgramDesc) (ProgramID, error) {
	if d.validate != nil {
		if err := d.validate(desc); err != nil {
			return 0, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.layouts[desc.Layout]; !ok {
		return 0, fmt.Errorf("program %s layout %d: %w", desc.Key(), desc.Layout, ErrUnknownResource)
	}
	kernel, ok := d.kernels[desc.Key()]
	if !ok {
		return 0, fmt.Errorf("no kernel registered for %s", desc.Key())
	}
	id := ProgramID(d.id())
	d.programs[id] = &softProgram{desc: desc, kernel: kernel}
	return id, nil
}

// Submit runs every pass to completion before returning.
func (d *SoftwareDevice) Submit(passes []Pass) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submits++
	for _, p := range passes {
		prog, ok := d.programs[p.Program]
		if !ok {
			return fmt.Errorf("pass %q program %d: %w", p.Label, p.Program, ErrUnknownResource)
		}
		group, ok := d.groups[p.BindGroup]
		if !ok {
			return fmt.Errorf("pass %q bind group %d: %w", p.Label, p.BindGroup, ErrUnknownResource)
		}
		if group.layout != prog.desc.Layout {
			return fmt.Errorf("pass %q: %w", p.Label, ErrLayoutMismatch)
		}
		limit := d.limits.MaxComputeWorkgroupsPerDimension
		if p.X > limit || p.Y > limit || p.Z > limit {
			return fmt.Errorf("pass %q: dispatch %dx%dx%d exceeds %d", p.Label, p.X, p.Y, p.Z, limit)
		}
		inv := &Invocation{Groups: [3]uint32{p.X, p.Y, p.Z}, dev: d, group: group}
		if err := prog.kernel(inv); err != nil {
			return fmt.Errorf("pass %q: %w", p.Label, err)
		}
		d.dispatches = append(d.dispatches, DispatchRecord{
			Label:   p.Label,
			Program: prog.desc.Key(),
			X:       p.X,
			Y:       p.Y,
			Z:       p.Z,
		})
	}
	return nil
}

func (d *SoftwareDevice) ReadBuffer(id BufferID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	if b.desc.Usage&BufferUsageCopySrc == 0 {
		return nil, fmt.Errorf("buffer %q is not a copy source", b.desc.Label)
	}
	return append([]byte(nil), b.data...), nil
}

type completedReadback struct {
	data []byte
	err  error
}

func (r *completedReadback) Poll() ([]byte, bool, error) { return r.data, true, r.err }

// RequestReadback completes immediately because Submit is synchronous.
func (d *SoftwareDevice) RequestReadback(id BufferID) (Readback, error) {
	data, err := d.ReadBuffer(id)
	if err != nil {
		return nil, err
	}
	return &completedReadback{data: data}, nil
}

func (d *SoftwareDevice) ReadTexture(id TextureID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	if t.Usage&TextureUsageCopySrc == 0 {
		return nil, fmt.Errorf("texture %d is not a copy source", id)
	}
	return append([]byte(nil), t.Pix...), nil
}

func (d *SoftwareDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.buffers)
	clear(d.textures)
	clear(d.groups)
	clear(d.programs)
}

// Dispatches returns a copy of every pass run so far.
func (d *SoftwareDevice) Dispatches() []DispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DispatchRecord(nil), d.dispatches...)
}

// Submits counts Submit calls.
func (d *SoftwareDevice) Submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

// LiveBindGroups is the number of bind groups not yet released.
func (d *SoftwareDevice) LiveBindGroups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.groups)
}

// Creations reports how many buffers and textures were ever created.
func (d *SoftwareDevice) Creations() (buffers, textures int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferCreations, d.textureCreations
}

var computeEntry = regexp.MustCompile(`@compute\s*@workgroup_size\([^)]*\)\s*fn\s+(\w+)\s*\(`)

// ValidateEntryPoint checks that the source declares the requested compute entry point.
func ValidateEntryPoint(desc ProgramDesc) error {
	for _, m := range computeEntry.FindAllStringSubmatch(desc.Source, -1) {
		if m[1] == desc.EntryPoint {
			return nil
		}
	}
	return fmt.Errorf("%s: no @compute entry point %q", desc.Module, desc.EntryPoint)
}

// ValidateWGSL checks the entry point and compiles the module with naga.
func ValidateWGSL(desc ProgramDesc) error {
	if err := ValidateEntryPoint(desc); err != nil {
		return err
	}
	if _, err := naga.Compile(desc.Source); err != nil {
		return fmt.Errorf("%s: %w", desc.Module, err)
	}
	return nil
}
