// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore defines the device contract the bilateral compute path is
// written against.
//
// A [Device] owns opaque resources (buffers, textures, kernels, bind groups,
// fences) addressed by integer IDs. Work is recorded into an [Encoder],
// finished into a [CommandSequence] and submitted once. Completion is
// observed through a fence with a bounded wait.
//
// Two implementations exist, one backed by gogpu/wgpu HAL and one that
// emulates the kernels on the CPU, and both honor the same ordering rules. A texture must be transitioned to the layout
// its next command expects, and a buffer written by a dispatch must pass a
// ShaderWrite to TransferRead barrier before it is copied.
package gpucore
