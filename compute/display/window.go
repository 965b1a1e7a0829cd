package display

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/gekko3d/particlelife/compute/gpu"
	"github.com/gekko3d/particlelife/compute/graph"
	"github.com/gekko3d/particlelife/compute/shaders"
)

// OpenWindow initialises glfw and creates a window without a client API.
// It must be called from the main thread.
func OpenWindow(width, height int, title string) (*glfw.Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, err
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, err
	}
	return win, nil
}

func SurfaceDescriptor(win *glfw.Window) *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(win)
}

// Window blits the output image onto a glfw window surface.
type Window struct {
	win    *glfw.Window
	device *gpu.WebGPUDevice
	images *gpu.ImageStore
	log    Logger

	config   *wgpu.SurfaceConfiguration
	pipeline *wgpu.RenderPipeline
	sampler  *wgpu.Sampler

	bindGroup *wgpu.BindGroup
	bound     gpu.TextureID

	pending       bool
	width, height uint32
}

// NewWindow configures the device surface for win. The device must have been
// created with SurfaceDescriptor(win).
func NewWindow(win *glfw.Window, device *gpu.WebGPUDevice, images *gpu.ImageStore, log Logger) (*Window, error) {
	if device.Surface == nil {
		return nil, fmt.Errorf("webgpu device has no surface")
	}
	if log == nil {
		log = nopLogger{}
	}
	w := &Window{win: win, device: device, images: images, log: log}

	width, height := win.GetFramebufferSize()
	caps := device.Surface.GetCapabilities(device.Adapter)
	w.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	device.Surface.Configure(device.Adapter, device.Device, w.config)

	module, err := device.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "blit",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.BlitWGSL},
	})
	if err != nil {
		return nil, err
	}
	defer module.Release()

	w.pipeline, err = device.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "blit",
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    w.config.Format,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, err
	}

	w.sampler, err = device.Device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeNearest,
		MagFilter:     wgpu.FilterModeNearest,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, err
	}

	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.Resize(width, height)
	})
	return w, nil
}

// Resize reconfigures the surface and records the size for TakeResize. Zero
// sizes (minimised) are ignored.
func (w *Window) Resize(width, height int) {
	if !w.record(width, height) {
		return
	}
	w.config.Width = w.width
	w.config.Height = w.height
	w.device.Surface.Configure(w.device.Adapter, w.device.Device, w.config)
}

func (w *Window) record(width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	w.width, w.height = uint32(width), uint32(height)
	w.pending = true
	return true
}

// TakeResize returns the framebuffer size recorded by the last Resize.
// The callback runs inside PollEvents, on the same thread as the app loop.
func (w *Window) TakeResize() (width, height uint32, ok bool) {
	if !w.pending {
		return 0, 0, false
	}
	w.pending = false
	return w.width, w.height, true
}

// Present processes window events and draws the frame's output image.
// It returns ErrWindowClosed once the user closes the window.
func (w *Window) Present(f *graph.Frame) error {
	glfw.PollEvents()
	if w.win.ShouldClose() {
		return ErrWindowClosed
	}

	tex, ok := w.images.Resolve(f.Output.Handle)
	if !ok {
		return fmt.Errorf("output image %s: %w", f.Output.Handle, gpu.ErrUnknownResource)
	}
	if err := w.bind(tex); err != nil {
		return err
	}

	next, err := w.device.Surface.GetCurrentTexture()
	if err != nil {
		w.log.Warnf("surface texture: %v", err)
		return nil
	}
	defer next.Release()
	view, err := next.CreateView(nil)
	if err != nil {
		return err
	}
	defer view.Release()

	encoder, err := w.device.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{0, 0, 0, 1},
		}},
	})
	pass.SetPipeline(w.pipeline)
	pass.SetBindGroup(0, w.bindGroup, nil)
	pass.Draw(3, 1, 0, 0)
	if err := pass.End(); err != nil {
		return err
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	defer cmd.Release()
	w.device.Queue.Submit(cmd)
	w.device.Surface.Present()
	return nil
}

// bind recreates the blit bind group when the output image handle changed.
func (w *Window) bind(tex gpu.TextureID) error {
	if w.bindGroup != nil && w.bound == tex {
		return nil
	}
	view, err := w.device.TextureView(tex)
	if err != nil {
		return err
	}
	layout := w.pipeline.GetBindGroupLayout(0)
	defer layout.Release()
	group, err := w.device.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "blit",
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: view},
			{Binding: 1, Sampler: w.sampler},
		},
	})
	if err != nil {
		return err
	}
	if w.bindGroup != nil {
		w.bindGroup.Release()
	}
	w.bindGroup = group
	w.bound = tex
	return nil
}

// Close releases the blit objects. The glfw window belongs to the caller and
// must outlive the device whose surface was created from it.
func (w *Window) Close() {
	if w.bindGroup != nil {
		w.bindGroup.Release()
		w.bindGroup = nil
	}
	if w.sampler != nil {
		w.sampler.Release()
		w.sampler = nil
	}
	if w.pipeline != nil {
		w.pipeline.Release()
		w.pipeline = nil
	}
}
