package wgpu

import (
	"fmt"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// lutDecl declares the handle lookup table. Handles are uploaded as
// little-endian uint64, read here as (slot+1, generation) pairs.
const lutDecl = `struct HandleLUT {
    handles: array<vec2<u32>>,
}

@group(0) @binding({{binding}}) var<storage, read> handle_lut: HandleLUT;

fn lut_slot(index: u32) -> i32 {
    return i32(handle_lut.handles[index].x) - 1;
}
`

// resolveMain resolves every table entry to its slot index. The renderer
// uses it to validate uploads; terrain shaders only include the
// declarations.
const resolveMain = `struct ResolveParams {
    count: u32,
}

@group(0) @binding({{out}}) var<storage, read_write> resolved: array<i32>;
@group(0) @binding({{params}}) var<uniform> params: ResolveParams;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < params.count) {
        resolved[id.x] = lut_slot(id.x);
    }
}
`

// ShaderSource returns the WGSL declarations for reading the handle lookup
// table at the given binding in group 0.
func ShaderSource(binding uint32) string {
	return strings.ReplaceAll(lutDecl, "{{binding}}", fmt.Sprint(binding))
}

// ResolveShaderSource returns a compute shader that writes the slot index
// of every lookup table entry to a storage buffer at outBinding. The entry
// count is a uniform at outBinding+1.
func ResolveShaderSource(binding, outBinding uint32) string {
	main := strings.NewReplacer(
		"{{out}}", fmt.Sprint(outBinding),
		"{{params}}", fmt.Sprint(outBinding+1),
	).Replace(resolveMain)
	return ShaderSource(binding) + "\n" + main
}

// CompileShaderToSPIRV compiles WGSL source to SPIR-V words.
func CompileShaderToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile shader: %w", err)
	}

	// SPIR-V is little-endian 32-bit words
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}

// CreateResolveShader compiles the lookup table resolve shader into a
// shader module on the device.
func (d *Device) CreateResolveShader(binding, outBinding uint32) (hal.ShaderModule, error) {
	code, err := CompileShaderToSPIRV(ResolveShaderSource(binding, outBinding))
	if err != nil {
		return nil, err
	}
	return d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "terrain-handle-lut",
		Source: hal.ShaderSource{SPIRV: code},
	})
}
