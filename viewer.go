package dipole

import (
	_ "embed"
	"fmt"
	"math"
	"runtime"
	"time"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

//go:embed viewer_shader.wgsl
var viewerWGSL string

// lobeUniformBytes is mat4 view-proj plus vec4 tint.
const lobeUniformBytes = 16*4 + 4*4

// Viewer is the reference consumer: a glfw/wgpu window drawing both
// lobes as instanced spheres. It fulfils the consumer contract by
// copying each received buffer pair into its own staging storage,
// marking the instance buffers dirty and returning the pair on the
// same frame.
type Viewer struct {
	log Logger
	sim *Simulator
	cfg ViewerConfig

	win     *glfw.Window
	surface *wgpu.Surface
	adapter *wgpu.Adapter
	device  *wgpu.Device
	queue   *wgpu.Queue

	pipeline  *wgpu.RenderPipeline
	depthView *wgpu.TextureView

	vertexBuf  *wgpu.Buffer
	indexBuf   *wgpu.Buffer
	indexCount uint32

	instRed  *wgpu.Buffer
	instBlue *wgpu.Buffer
	uniRed   *wgpu.Buffer
	uniBlue  *wgpu.Buffer
	bgRed    *wgpu.BindGroup
	bgBlue   *wgpu.BindGroup

	capacity  int
	stageRed  []byte
	stageBlue []byte
	dirty     bool
}

// NewViewer opens the window and builds the GPU pipeline. capacity must
// match the simulator's init capacity, since instance buffers are sized
// for the full pool. Must be called from the main goroutine; the OS
// thread is locked for glfw.
func NewViewer(cfg ViewerConfig, capacity int, sim *Simulator, log Logger) (*Viewer, error) {
	runtime.LockOSThread()
	if log == nil {
		log = NewNopLogger()
	}
	if capacity <= 0 {
		capacity = 1
	}

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("initializing glfw: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // wgpu owns the surface, no OpenGL
	glfw.WindowHint(glfw.Resizable, glfw.False)

	win, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("creating window: %w", err)
	}

	instance := wgpu.CreateInstance(nil)
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(win))

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting adapter: %w", err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Dipole Viewer Device",
	})
	if err != nil {
		return nil, fmt.Errorf("requesting device: %w", err)
	}
	queue := device.GetQueue()

	caps := surface.GetCapabilities(adapter)
	format := caps.Formats[0]
	surface.Configure(adapter, device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       uint32(cfg.Width),
		Height:      uint32(cfg.Height),
		PresentMode: wgpu.PresentModeFifo, // vsync
		AlphaMode:   caps.AlphaModes[0],
	})

	v := &Viewer{
		log:       log,
		sim:       sim,
		cfg:       cfg,
		win:       win,
		surface:   surface,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		capacity:  capacity,
		stageRed:  make([]byte, capacity*MatrixBytes),
		stageBlue: make([]byte, capacity*MatrixBytes),
	}

	if err := v.buildPipeline(format); err != nil {
		return nil, err
	}
	if err := v.buildBuffers(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Viewer) buildPipeline(format wgpu.TextureFormat) error {
	shaderModule, err := v.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "DipoleLobeShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: viewerWGSL},
	})
	if err != nil {
		return fmt.Errorf("creating shader module: %w", err)
	}

	bgl, err := v.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "LobeUniformsBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: lobeUniformBytes,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating bind group layout: %w", err)
	}

	layout, err := v.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return fmt.Errorf("creating pipeline layout: %w", err)
	}

	v.pipeline, err = v.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "DipoleLobePipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: uint64(unsafe.Sizeof(sphereVertex{})),
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
						{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
					},
				},
				{
					ArrayStride: MatrixBytes,
					StepMode:    wgpu.VertexStepModeInstance,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 2},
						{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 3},
						{Format: wgpu.VertexFormatFloat32x4, Offset: 32, ShaderLocation: 4},
						{Format: wgpu.VertexFormatFloat32x4, Offset: 48, ShaderLocation: 5},
					},
				},
			},
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLess,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("creating render pipeline: %w", err)
	}

	depthTexture, err := v.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "DipoleDepthTexture",
		Size: wgpu.Extent3D{
			Width:              uint32(v.cfg.Width),
			Height:             uint32(v.cfg.Height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return fmt.Errorf("creating depth texture: %w", err)
	}
	v.depthView, err = depthTexture.CreateView(nil)
	if err != nil {
		return fmt.Errorf("creating depth view: %w", err)
	}
	return nil
}

func (v *Viewer) buildBuffers() error {
	vertices, indices := buildSphereMesh(16, 24)
	vSize := uint64(len(vertices)) * uint64(unsafe.Sizeof(sphereVertex{}))
	iSize := uint64(len(indices)) * 4

	var err error
	v.vertexBuf, err = v.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "SphereVertexBuffer",
		Size:  vSize,
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("creating vertex buffer: %w", err)
	}
	v.queue.WriteBuffer(v.vertexBuf, 0, unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), vSize))

	v.indexBuf, err = v.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "SphereIndexBuffer",
		Size:  iSize,
		Usage: wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("creating index buffer: %w", err)
	}
	v.queue.WriteBuffer(v.indexBuf, 0, unsafe.Slice((*byte)(unsafe.Pointer(&indices[0])), iSize))
	v.indexCount = uint32(len(indices))

	instSize := uint64(v.capacity * MatrixBytes)
	for _, spec := range []struct {
		label string
		inst  **wgpu.Buffer
		uni   **wgpu.Buffer
		bg    **wgpu.BindGroup
	}{
		{"Red", &v.instRed, &v.uniRed, &v.bgRed},
		{"Blue", &v.instBlue, &v.uniBlue, &v.bgBlue},
	} {
		inst, err := v.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: spec.label + "LobeInstanceBuffer",
			Size:  instSize,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("creating %s instance buffer: %w", spec.label, err)
		}
		*spec.inst = inst

		uni, err := v.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: spec.label + "LobeUniformBuffer",
			Size:  lobeUniformBytes,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("creating %s uniform buffer: %w", spec.label, err)
		}
		*spec.uni = uni

		bg, err := v.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  spec.label + "LobeBindGroup",
			Layout: v.pipeline.GetBindGroupLayout(0),
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: uni, Size: lobeUniformBytes},
			},
		})
		if err != nil {
			return fmt.Errorf("creating %s bind group: %w", spec.label, err)
		}
		*spec.bg = bg
	}
	return nil
}

// Run drives the render loop until the window closes. Each frame drains
// pending matrix updates, uploads dirty instance data and draws one
// instanced call per lobe color.
func (v *Viewer) Run() error {
	defer glfw.Terminate()
	start := time.Now()
	for !v.win.ShouldClose() {
		glfw.PollEvents()
		v.drainUpdates()
		if v.dirty {
			v.queue.WriteBuffer(v.instRed, 0, v.stageRed)
			v.queue.WriteBuffer(v.instBlue, 0, v.stageBlue)
			v.dirty = false
		}
		v.writeCamera(float32(time.Since(start).Seconds()))
		if err := v.renderFrame(); err != nil {
			return err
		}
	}
	return nil
}

// drainUpdates empties the simulator's update channel: copy both
// buffers, flag dirty, return the pair. Pairs from a session with a
// different capacity are returned without copying.
func (v *Viewer) drainUpdates() {
	for {
		select {
		case u := <-v.sim.Updates():
			pair := u.Pair.Take()
			if len(pair.Red) == len(v.stageRed) {
				copy(v.stageRed, pair.Red)
				copy(v.stageBlue, pair.Blue)
				v.dirty = true
			} else {
				v.log.Debugf("session %s update sized for a different capacity, skipped", u.Session)
			}
			v.sim.ReturnBuffers(NewOwnedPair(pair))
		default:
			return
		}
	}
}

// writeCamera updates both lobe uniform blocks with a slow orbit around
// the spawn region.
func (v *Viewer) writeCamera(elapsed float32) {
	const orbitRadius = 14.0
	angle := elapsed * 0.25
	eye := mgl32.Vec3{
		orbitRadius * float32(math.Cos(float64(angle))),
		6,
		orbitRadius * float32(math.Sin(float64(angle))),
	}
	aspect := float32(v.cfg.Width) / float32(v.cfg.Height)
	viewProj := mgl32.Perspective(mgl32.DegToRad(45), aspect, 0.1, 100).
		Mul4(mgl32.LookAtV(eye, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0}))

	v.queue.WriteBuffer(v.uniRed, 0, packLobeUniforms(viewProj, [4]float32{0.9, 0.2, 0.15, 1}))
	v.queue.WriteBuffer(v.uniBlue, 0, packLobeUniforms(viewProj, [4]float32{0.2, 0.35, 0.95, 1}))
}

func packLobeUniforms(viewProj mgl32.Mat4, tint [4]float32) []byte {
	buf := make([]byte, lobeUniformBytes)
	putMat4(buf, 0, viewProj)
	for i, f := range tint {
		putFloat32(buf[MatrixBytes+i*4:], f)
	}
	return buf
}

func (v *Viewer) renderFrame() error {
	surfaceTexture, err := v.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("acquiring surface texture: %w", err)
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return fmt.Errorf("creating surface view: %w", err)
	}
	encoder, err := v.device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return fmt.Errorf("creating command encoder: %w", err)
	}

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: 0.02, G: 0.02, B: 0.04, A: 1},
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            v.depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	})

	pass.SetPipeline(v.pipeline)
	pass.SetVertexBuffer(0, v.vertexBuf, 0, v.vertexBuf.GetSize())
	pass.SetIndexBuffer(v.indexBuf, wgpu.IndexFormatUint32, 0, v.indexBuf.GetSize())

	pass.SetBindGroup(0, v.bgRed, nil)
	pass.SetVertexBuffer(1, v.instRed, 0, v.instRed.GetSize())
	pass.DrawIndexed(v.indexCount, uint32(v.capacity), 0, 0, 0)

	pass.SetBindGroup(0, v.bgBlue, nil)
	pass.SetVertexBuffer(1, v.instBlue, 0, v.instBlue.GetSize())
	pass.DrawIndexed(v.indexCount, uint32(v.capacity), 0, 0, 0)

	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return fmt.Errorf("finishing encoder: %w", err)
	}
	v.queue.Submit(cmd)
	v.surface.Present()

	cmd.Release()
	encoder.Release()
	view.Release()
	surfaceTexture.Release()
	return nil
}
