// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

// Resource IDs
//
// These opaque IDs represent device resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// TextureID is an opaque handle to a device texture.
type TextureID uint64

// KernelID is an opaque handle to a compiled compute kernel together with its
// binding layout.
type KernelID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// FenceID is an opaque handle to a submission completion fence.
type FenceID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be read by the host.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be written by the host.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7
)

// Has reports whether all flags in f are set.
func (u BufferUsage) Has(f BufferUsage) bool {
	return u&f == f
}

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	// TextureUsageCopyDst indicates the texture can be used as a copy destination.
	TextureUsageCopyDst TextureUsage = 1 << 1

	// TextureUsageTextureBinding indicates the texture can be bound as a sampled texture.
	TextureUsageTextureBinding TextureUsage = 1 << 2
)

// Has reports whether all flags in f are set.
func (u TextureUsage) Has(f TextureUsage) bool {
	return u&f == f
}

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA32Float is four 32-bit float channels, 16 bytes per texel.
	TextureFormatRGBA32Float TextureFormat = iota + 1
)

// BytesPerTexel returns the texel size of the format.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// String returns the format name.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA32Float:
		return "rgba32float"
	default:
		return "unknown"
	}
}

// TextureLayout is the declared intended use of a texture's memory.
// Commands that touch a texture require it to be in a specific layout.
type TextureLayout uint8

// Texture layouts.
const (
	// LayoutUndefined is the initial layout; contents are undefined.
	LayoutUndefined TextureLayout = iota

	// LayoutTransferDst allows clears and copies into the texture.
	LayoutTransferDst

	// LayoutShaderReadOnly allows sampling from a compute kernel.
	LayoutShaderReadOnly
)

// String returns the layout name.
func (l TextureLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutTransferDst:
		return "TransferDst"
	case LayoutShaderReadOnly:
		return "ShaderReadOnly"
	default:
		return "Unknown"
	}
}

// Access is a kind of memory access used on either side of a barrier.
type Access uint8

// Memory access kinds.
const (
	AccessNone Access = iota
	AccessHostWrite
	AccessTransferWrite
	AccessTransferRead
	AccessShaderRead
	AccessShaderWrite
	AccessHostRead
)

// String returns the access name.
func (a Access) String() string {
	switch a {
	case AccessNone:
		return "None"
	case AccessHostWrite:
		return "HostWrite"
	case AccessTransferWrite:
		return "TransferWrite"
	case AccessTransferRead:
		return "TransferRead"
	case AccessShaderRead:
		return "ShaderRead"
	case AccessShaderWrite:
		return "ShaderWrite"
	case AccessHostRead:
		return "HostRead"
	default:
		return "Unknown"
	}
}

// BindingType specifies the type of a kernel binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeReadOnlyStorageBuffer is a read-only storage buffer binding.
	BindingTypeReadOnlyStorageBuffer

	// BindingTypeSampledTexture is a sampled (unfilterable float) 2-D texture binding.
	BindingTypeSampledTexture
)

// String returns the binding type name.
func (t BindingType) String() string {
	switch t {
	case BindingTypeUniformBuffer:
		return "uniform"
	case BindingTypeStorageBuffer:
		return "storage"
	case BindingTypeReadOnlyStorageBuffer:
		return "read-only-storage"
	case BindingTypeSampledTexture:
		return "sampled-texture"
	default:
		return "unknown"
	}
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage is a bitmask of BufferUsage flags.
	Usage BufferUsage
}

// TextureDesc describes a 2-D texture with a single mip level.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	Width  uint32
	Height uint32
	Format TextureFormat
	Usage  TextureUsage
}

// BindingLayout describes one slot of a kernel's bind group.
type BindingLayout struct {
	// Binding is the binding index.
	Binding uint32

	// Type is the type of resource bound at this index.
	Type BindingType
}

// KernelDesc describes a compute kernel.
type KernelDesc struct {
	// Label is an optional debug label.
	Label string

	// Name identifies the kernel program. Devices that cannot compile Source
	// use it to select an equivalent built-in implementation.
	Name string

	// Source is the WGSL source of the kernel.
	Source string

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string

	// WorkgroupSize is the kernel's declared @workgroup_size.
	WorkgroupSize [3]uint32

	// Bindings is the layout of bind group 0.
	Bindings []BindingLayout
}

// BindGroupEntry describes a single binding in a bind group.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind (for buffer bindings).
	Buffer BufferID

	// Offset is the offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64

	// Texture is the texture to bind (for texture bindings).
	Texture TextureID
}

// BindGroupDesc describes a bind group for a kernel.
type BindGroupDesc struct {
	// Label is an optional debug label.
	Label string

	// Kernel is the kernel whose layout the group satisfies.
	Kernel KernelID

	// Entries are the resource bindings.
	Entries []BindGroupEntry
}
