//go:build windows

package webgpu

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
)

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached in the Backend's shaders map.
func (b *Backend) compileShader(name, code string) *wgpu.ShaderModule {
	b.mu.RLock()
	if shader, exists := b.shaders[name]; exists {
		b.mu.RUnlock()
		return shader
	}
	b.mu.RUnlock()

	shader := b.device.CreateShaderModuleWGSL(code)

	b.mu.Lock()
	b.shaders[name] = shader
	b.mu.Unlock()
	return shader
}

// getOrCreatePipeline returns a cached ComputePipeline or creates a new one.
func (b *Backend) getOrCreatePipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	b.mu.RLock()
	if pipeline, exists := b.pipelines[name]; exists {
		b.mu.RUnlock()
		return pipeline
	}
	b.mu.RUnlock()

	// Auto layout (nil layout)
	pipeline := b.device.CreateComputePipelineSimple(nil, shader, "main")

	b.mu.Lock()
	b.pipelines[name] = pipeline
	b.mu.Unlock()
	return pipeline
}

// createBuffer creates a storage buffer holding data.
func (b *Backend) createBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mappedPtr), size), data)
	buffer.Unmap()
	return buffer
}

// createUniformBuffer creates a uniform buffer padded to 16 bytes.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	alignedSize := (uint64(len(data)) + 15) &^ 15
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mappedPtr), alignedSize), data)
	buffer.Unmap()
	return buffer
}

// readBuffer copies a storage buffer back to host memory through a staging
// buffer.
func (b *Backend) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, errors.Wrap(err, "webgpu: map staging buffer")
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	result := append([]byte(nil), unsafe.Slice((*byte)(mappedPtr), size)...)
	staging.Unmap()
	return result, nil
}

// kernel describes one compute dispatch: storage inputs bound at 0..n-1,
// the result at n and the uniform params at n+1.
type kernel struct {
	name        string
	code        string
	inputs      [][]byte
	params      []byte
	resultSize  int // float32 elements
	invocations int
}

// run executes k and returns its float32 result.
func (b *Backend) run(k kernel) ([]float32, error) {
	pipeline := b.getOrCreatePipeline(k.name, b.compileShader(k.name, k.code))

	entries := make([]wgpu.BindGroupEntry, 0, len(k.inputs)+2)
	for i, data := range k.inputs {
		buf := b.createBuffer(data)
		defer buf.Release()
		//nolint:gosec // G115: binding indices and sizes are small and non-negative
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), buf, 0, uint64(len(data))))
	}

	resultBytes := uint64(k.resultSize * 4)
	result := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  resultBytes,
	})
	defer result.Release()
	params := b.createUniformBuffer(k.params)
	defer params.Release()

	n := uint32(len(k.inputs)) //nolint:gosec // G115: at most a handful of inputs
	entries = append(entries,
		wgpu.BufferBindingEntry(n, result, 0, resultBytes),
		wgpu.BufferBindingEntry(n+1, params, 0, (uint64(len(k.params))+15)&^15),
	)
	bindGroup := b.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), entries)
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: workgroup count is non-negative
	pass.DispatchWorkgroups(uint32((k.invocations+workgroupSize-1)/workgroupSize), 1, 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))

	raw, err := b.readBuffer(result, resultBytes)
	if err != nil {
		return nil, err
	}
	out := make([]float32, k.resultSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}

func f32Bytes(data []float32) []byte {
	out := make([]byte, 4*max(len(data), 1))
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// i32Bytes flattens a position table; -1 stays -1 in two's complement.
func i32Bytes(rows [][]int) []byte {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]byte, 4*max(n, 1))
	off := 0
	for _, r := range rows {
		for _, v := range r {
			binary.LittleEndian.PutUint32(out[off:], uint32(int32(v))) //nolint:gosec // positions fit in int32
			off += 4
		}
	}
	return out
}

// u32Params packs uniform fields.
func u32Params(fields ...uint32) []byte {
	out := make([]byte, 4*len(fields))
	for i, v := range fields {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}
