package gpu

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

type WebGPUOptions struct {
	// Surface, when set, is created on the device's instance and used to pick a compatible adapter.
	Surface *wgpu.SurfaceDescriptor
}

type wgpuTexture struct {
	desc    TextureDesc
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

// WebGPUDevice drives a native WebGPU adapter through cogentcore/webgpu.
type WebGPUDevice struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface

	mu       sync.Mutex
	nextID   uint64
	limits   Limits
	buffers  map[BufferID]*wgpu.Buffer
	sizes    map[BufferID]uint64
	textures map[TextureID]*wgpuTexture
	layouts  map[BindGroupLayoutID]*wgpu.BindGroupLayout
	groups   map[BindGroupID]*wgpu.BindGroup
	programs map[ProgramID]*wgpu.ComputePipeline
}

func NewWebGPUDevice(opts WebGPUOptions) (*WebGPUDevice, error) {
	d := &WebGPUDevice{
		buffers:  make(map[BufferID]*wgpu.Buffer),
		sizes:    make(map[BufferID]uint64),
		textures: make(map[TextureID]*wgpuTexture),
		layouts:  make(map[BindGroupLayoutID]*wgpu.BindGroupLayout),
		groups:   make(map[BindGroupID]*wgpu.BindGroup),
		programs: make(map[ProgramID]*wgpu.ComputePipeline),
	}

	d.Instance = wgpu.CreateInstance(nil)
	if opts.Surface != nil {
		d.Surface = d.Instance.CreateSurface(opts.Surface)
	}

	adapter, err := d.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: d.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		d.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	d.Adapter = adapter
	d.limits = adapterLimits(adapter)

	d.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		d.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	d.Queue = d.Device.GetQueue()
	return d, nil
}

// DefaultAdapterLimits reports the limits of the default adapter without keeping a device.
func DefaultAdapterLimits() (Limits, error) {
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return Limits{}, err
	}
	defer adapter.Release()
	return adapterLimits(adapter), nil
}

func adapterLimits(adapter *wgpu.Adapter) Limits {
	supported := adapter.GetLimits()
	return Limits{
		MaxComputeWorkgroupsPerDimension: supported.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:      supported.Limits.MaxStorageBufferBindingSize,
	}
}

func (d *WebGPUDevice) Name() string   { return "webgpu" }
func (d *WebGPUDevice) Limits() Limits { return d.limits }

func (d *WebGPUDevice) id() uint64 {
	d.nextID++
	return d.nextID
}

func toBufferUsage(u BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u&BufferUsageMapRead != 0 {
		out |= wgpu.BufferUsageMapRead
	}
	if u&BufferUsageCopySrc != 0 {
		out |= wgpu.BufferUsageCopySrc
	}
	if u&BufferUsageCopyDst != 0 {
		out |= wgpu.BufferUsageCopyDst
	}
	if u&BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if u&BufferUsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	return out
}

func toTextureUsage(u TextureUsage) wgpu.TextureUsage {
	var out wgpu.TextureUsage
	if u&TextureUsageCopySrc != 0 {
		out |= wgpu.TextureUsageCopySrc
	}
	if u&TextureUsageCopyDst != 0 {
		out |= wgpu.TextureUsageCopyDst
	}
	if u&TextureUsageTextureBinding != 0 {
		out |= wgpu.TextureUsageTextureBinding
	}
	if u&TextureUsageStorageBinding != 0 {
		out |= wgpu.TextureUsageStorageBinding
	}
	return out
}

func toTextureFormat(f TextureFormat) wgpu.TextureFormat {
	switch f {
	case TextureFormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	case TextureFormatR32Float:
		return wgpu.TextureFormatR32Float
	}
	return wgpu.TextureFormatUndefined
}

func (d *WebGPUDevice) CreateBuffer(desc BufferDesc) (BufferID, error) {
	buf, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            toBufferUsage(desc.Usage),
		MappedAtCreation: false,
	})
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := BufferID(d.id())
	d.buffers[id] = buf
	d.sizes[id] = desc.Size
	return id, nil
}

func (d *WebGPUDevice) buffer(id BufferID) (*wgpu.Buffer, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return nil, 0, fmt.Errorf("buffer %d: %w", id, ErrUnknownResource)
	}
	return buf, d.sizes[id], nil
}

func (d *WebGPUDevice) texture(id TextureID) (*wgpuTexture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", id, ErrUnknownResource)
	}
	return t, nil
}

func (d *WebGPUDevice) WriteBuffer(id BufferID, offset uint64, data []byte) error {
	buf, size, err := d.buffer(id)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > size {
		return fmt.Errorf("buffer %d: write of %d bytes at %d overflows %d", id, len(data), offset, size)
	}
	d.Queue.WriteBuffer(buf, offset, data)
	return nil
}

func (d *WebGPUDevice) CreateTexture(desc TextureDesc) (TextureID, error) {
	tex, err := d.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        toTextureFormat(desc.Format),
		Usage:         toTextureUsage(desc.Usage),
	})
	if err != nil {
		return 0, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := TextureID(d.id())
	d.textures[id] = &wgpuTexture{desc: desc, texture: tex, view: view}
	return id, nil
}

func (d *WebGPUDevice) WriteTexture(id TextureID, data []byte) error {
	t, err := d.texture(id)
	if err != nil {
		return err
	}
	bpp := uint32(t.desc.Format.BytesPerTexel())
	if len(data) != int(t.desc.Width*t.desc.Height*bpp) {
		return fmt.Errorf("texture %d: expected %d bytes, got %d", id, t.desc.Width*t.desc.Height*bpp, len(data))
	}
	d.Queue.WriteTexture(t.texture.AsImageCopy(), data, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  t.desc.Width * bpp,
		RowsPerImage: t.desc.Height,
	}, &wgpu.Extent3D{Width: t.desc.Width, Height: t.desc.Height, DepthOrArrayLayers: 1})
	return nil
}

// TextureView exposes the view of a texture to presentation code.
func (d *WebGPUDevice) TextureView(id TextureID) (*wgpu.TextureView, error) {
	t, err := d.texture(id)
	if err != nil {
		return nil, err
	}
	return t.view, nil
}

func (d *WebGPUDevice) CreateBindGroupLayout(desc BindGroupLayoutDesc) (BindGroupLayoutID, error) {
	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		entry := wgpu.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: wgpu.ShaderStageCompute,
		}
		switch e.Type {
		case BindingUniformBuffer:
			entry.Buffer = wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: e.MinBindingSize}
		case BindingStorageBuffer:
			entry.Buffer = wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage, MinBindingSize: e.MinBindingSize}
		case BindingReadOnlyStorageBuffer:
			entry.Buffer = wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage, MinBindingSize: e.MinBindingSize}
		case BindingReadOnlyStorageTexture:
			entry.StorageTexture = wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessReadOnly,
				Format:        toTextureFormat(e.Format),
				ViewDimension: wgpu.TextureViewDimension2D,
			}
		case BindingWriteOnlyStorageTexture:
			entry.StorageTexture = wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessWriteOnly,
				Format:        toTextureFormat(e.Format),
				ViewDimension: wgpu.TextureViewDimension2D,
			}
		default:
			return 0, fmt.Errorf("layout %q: unsupported binding type %s", desc.Label, e.Type)
		}
		entries = append(entries, entry)
	}

	layout, err := d.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := BindGroupLayoutID(d.id())
	d.layouts[id] = layout
	return id, nil
}

func (d *WebGPUDevice) CreateBindGroup(desc BindGroupDesc) (BindGroupID, error) {
	d.mu.Lock()
	layout, ok := d.layouts[desc.Layout]
	if !ok {
		d.mu.Unlock()
		return 0, fmt.Errorf("bind group %q layout %d: %w", desc.Label, desc.Layout, ErrUnknownResource)
	}
	entries := make([]wgpu.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		switch {
		case e.Buffer != 0:
			buf, ok := d.buffers[e.Buffer]
			if !ok {
				d.mu.Unlock()
				return 0, fmt.Errorf("bind group %q buffer %d: %w", desc.Label, e.Buffer, ErrUnknownResource)
			}
			entries = append(entries, wgpu.BindGroupEntry{Binding: e.Binding, Buffer: buf, Size: wgpu.WholeSize})
		case e.Texture != 0:
			tex, ok := d.textures[e.Texture]
			if !ok {
				d.mu.Unlock()
				return 0, fmt.Errorf("bind group %q texture %d: %w", desc.Label, e.Texture, ErrUnknownResource)
			}
			entries = append(entries, wgpu.BindGroupEntry{Binding: e.Binding, TextureView: tex.view})
		default:
			d.mu.Unlock()
			return 0, fmt.Errorf("bind group %q binding %d: %w", desc.Label, e.Binding, ErrUnsetResource)
		}
	}
	d.mu.Unlock()

	group, err := d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := BindGroupID(d.id())
	d.groups[id] = group
	return id, nil
}

func (d *WebGPUDevice) ReleaseBindGroup(id BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.groups[id]; ok {
		g.Release()
		delete(d.groups, id)
	}
}

func (d *WebGPUDevice) CreateComputeProgram(desc ProgramDesc) (ProgramID, error) {
	d.mu.Lock()
	layout, ok := d.layouts[desc.Layout]
	d.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("program %s layout %d: %w", desc.Key(), desc.Layout, ErrUnknownResource)
	}

	module, err := d.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.Source},
	})
	if err != nil {
		return 0, err
	}
	defer module.Release()

	pipelineLayout, err := d.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return 0, err
	}
	defer pipelineLayout.Release()

	pipeline, err := d.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := ProgramID(d.id())
	d.programs[id] = pipeline
	return id, nil
}

// Submit encodes one compute pass per Pass into a single command buffer.
// It returns once the work is queued, not when it completes.
func (d *WebGPUDevice) Submit(passes []Pass) error {
	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	for _, p := range passes {
		d.mu.Lock()
		pipeline, okP := d.programs[p.Program]
		group, okG := d.groups[p.BindGroup]
		d.mu.Unlock()
		if !okP || !okG {
			return fmt.Errorf("pass %q: %w", p.Label, ErrUnknownResource)
		}

		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, group, nil)
		pass.DispatchWorkgroups(p.X, p.Y, p.Z)
		err = pass.End()
		pass.Release()
		if err != nil {
			return fmt.Errorf("pass %q: %w", p.Label, err)
		}
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	defer cmd.Release()
	d.Queue.Submit(cmd)
	return nil
}

// stage copies size bytes of src into a fresh mappable buffer.
func (d *WebGPUDevice) stage(src *wgpu.Buffer, size uint64) (*wgpu.Buffer, error) {
	staging, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "staging_read",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		staging.Release()
		return nil, err
	}
	defer encoder.Release()
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		staging.Release()
		return nil, err
	}
	d.Queue.Submit(cmd)
	cmd.Release()
	return staging, nil
}

// mapBlocking maps staging and waits for the GPU.
func (d *WebGPUDevice) mapBlocking(staging *wgpu.Buffer, size uint64) ([]byte, error) {
	done := make(chan error, 1)
	err := staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("map buffer: %v", status)
		} else {
			done <- nil
		}
	})
	if err != nil {
		return nil, err
	}
	d.Device.Poll(true, nil)
	if err := <-done; err != nil {
		return nil, err
	}
	mapped := staging.GetMappedRange(0, uint(size))
	out := make([]byte, len(mapped))
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

func (d *WebGPUDevice) ReadBuffer(id BufferID) ([]byte, error) {
	buf, size, err := d.buffer(id)
	if err != nil {
		return nil, err
	}
	staging, err := d.stage(buf, size)
	if err != nil {
		return nil, err
	}
	defer staging.Release()
	return d.mapBlocking(staging, size)
}

type wgpuReadback struct {
	device  *WebGPUDevice
	staging *wgpu.Buffer
	size    uint64
	status  chan wgpu.BufferMapAsyncStatus
	data    []byte
	err     error
	done    bool
}

func (r *wgpuReadback) Poll() ([]byte, bool, error) {
	if r.done {
		return r.data, true, r.err
	}
	r.device.Device.Poll(false, nil)
	select {
	case status := <-r.status:
		r.done = true
		if status != wgpu.BufferMapAsyncStatusSuccess {
			r.err = fmt.Errorf("map buffer: %v", status)
		} else {
			mapped := r.staging.GetMappedRange(0, uint(r.size))
			r.data = append([]byte(nil), mapped...)
			r.staging.Unmap()
		}
		r.staging.Release()
		return r.data, true, r.err
	default:
		return nil, false, nil
	}
}

func (d *WebGPUDevice) RequestReadback(id BufferID) (Readback, error) {
	buf, size, err := d.buffer(id)
	if err != nil {
		return nil, err
	}
	staging, err := d.stage(buf, size)
	if err != nil {
		return nil, err
	}
	r := &wgpuReadback{device: d, staging: staging, size: size, status: make(chan wgpu.BufferMapAsyncStatus, 1)}
	err = staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		r.status <- status
	})
	if err != nil {
		staging.Release()
		return nil, err
	}
	return r, nil
}

func (d *WebGPUDevice) ReadTexture(id TextureID) ([]byte, error) {
	t, err := d.texture(id)
	if err != nil {
		return nil, err
	}
	bpp := uint32(t.desc.Format.BytesPerTexel())
	w, h := t.desc.Width, t.desc.Height
	rowBytes := w * bpp
	bytesPerRow := (rowBytes + 255) & ^uint32(255)
	size := uint64(bytesPerRow) * uint64(h)

	staging, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "staging_texture_read",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	defer encoder.Release()
	encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  t.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: 0},
		},
		&wgpu.ImageCopyBuffer{
			Buffer: staging,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  bytesPerRow,
				RowsPerImage: h,
			},
		},
		&wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	d.Queue.Submit(cmd)
	cmd.Release()

	padded, err := d.mapBlocking(staging, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, int(rowBytes*h))
	for y := uint32(0); y < h; y++ {
		copy(out[y*rowBytes:(y+1)*rowBytes], padded[y*bytesPerRow:y*bytesPerRow+rowBytes])
	}
	return out, nil
}

func (d *WebGPUDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, g := range d.groups {
		g.Release()
		delete(d.groups, id)
	}
	for id, p := range d.programs {
		p.Release()
		delete(d.programs, id)
	}
	for id, l := range d.layouts {
		l.Release()
		delete(d.layouts, id)
	}
	for id, t := range d.textures {
		t.view.Release()
		t.texture.Release()
		delete(d.textures, id)
	}
	for id, b := range d.buffers {
		b.Release()
		delete(d.buffers, id)
	}
	if d.Device != nil {
		d.Device.Release()
		d.Device = nil
	}
	if d.Adapter != nil {
		d.Adapter.Release()
		d.Adapter = nil
	}
	if d.Surface != nil {
		d.Surface.Release()
		d.Surface = nil
	}
	if d.Instance != nil {
		d.Instance.Release()
		d.Instance = nil
	}
}
