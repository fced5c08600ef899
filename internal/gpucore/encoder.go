// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Encoder errors.
var (
	// ErrEncoderFinished is returned when recording into a finished encoder.
	ErrEncoderFinished = errors.New("gpucore: encoder already finished")

	// ErrSequenceConsumed is returned when a command sequence is submitted twice.
	ErrSequenceConsumed = errors.New("gpucore: command sequence already consumed")

	// ErrInvalidCommand is returned for commands with invalid arguments.
	ErrInvalidCommand = errors.New("gpucore: invalid command")
)

// CommandKind identifies a recorded command.
type CommandKind uint8

// Command kinds.
const (
	CmdTransitionTexture CommandKind = iota + 1
	CmdClearTexture
	CmdCopyBufferToTexture
	CmdBufferBarrier
	CmdDispatch
	CmdCopyBufferToBuffer
)

// String returns the command name.
func (k CommandKind) String() string {
	switch k {
	case CmdTransitionTexture:
		return "TransitionTexture"
	case CmdClearTexture:
		return "ClearTexture"
	case CmdCopyBufferToTexture:
		return "CopyBufferToTexture"
	case CmdBufferBarrier:
		return "BufferBarrier"
	case CmdDispatch:
		return "Dispatch"
	case CmdCopyBufferToBuffer:
		return "CopyBufferToBuffer"
	default:
		return "Unknown"
	}
}

// Command is one recorded operation. Only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	// Texture commands.
	Texture   TextureID
	OldLayout TextureLayout
	NewLayout TextureLayout
	Color     [4]float32

	// Buffer commands. Buffer is the source of copies and the subject of
	// barriers; DstBuffer is the copy destination.
	Buffer    BufferID
	DstBuffer BufferID
	SrcAccess Access
	DstAccess Access
	SrcOffset uint64
	DstOffset uint64
	Size      uint64

	// CopyBufferToTexture layout.
	BytesPerRow uint32
	Width       uint32
	Height      uint32

	// Dispatch.
	Kernel    KernelID
	BindGroup BindGroupID
	Groups    [3]uint32
}

// String returns a compact description used in debug logs.
func (c Command) String() string {
	switch c.Kind {
	case CmdTransitionTexture:
		return fmt.Sprintf("%s(tex=%d %s->%s)", c.Kind, c.Texture, c.OldLayout, c.NewLayout)
	case CmdClearTexture:
		return fmt.Sprintf("%s(tex=%d %v)", c.Kind, c.Texture, c.Color)
	case CmdCopyBufferToTexture:
		return fmt.Sprintf("%s(buf=%d tex=%d %dx%d pitch=%d)", c.Kind, c.Buffer, c.Texture, c.Width, c.Height, c.BytesPerRow)
	case CmdBufferBarrier:
		return fmt.Sprintf("%s(buf=%d %s->%s)", c.Kind, c.Buffer, c.SrcAccess, c.DstAccess)
	case CmdDispatch:
		return fmt.Sprintf("%s(kernel=%d groups=%v)", c.Kind, c.Kernel, c.Groups)
	case CmdCopyBufferToBuffer:
		return fmt.Sprintf("%s(%d->%d size=%d)", c.Kind, c.Buffer, c.DstBuffer, c.Size)
	default:
		return c.Kind.String()
	}
}

// EncoderState is the recording state of an Encoder.
type EncoderState uint8

const (
	// EncoderRecording accepts commands.
	EncoderRecording EncoderState = iota
	// EncoderFinished has produced its CommandSequence.
	EncoderFinished
)

// String returns the state name.
func (s EncoderState) String() string {
	if s == EncoderRecording {
		return "Recording"
	}
	return "Finished"
}

// Encoder records commands for a single submission.
//
// State machine:
//
//	Recording -> Finish() -> Finished
//
// Encoder is NOT safe for concurrent use.
type Encoder struct {
	label string
	state EncoderState
	cmds  []Command
}

// NewEncoder creates an encoder in the Recording state.
func NewEncoder(label string) *Encoder {
	return &Encoder{label: label}
}

// State returns the encoder state.
func (e *Encoder) State() EncoderState {
	return e.state
}

func (e *Encoder) record(c Command) error {
	if e.state != EncoderRecording {
		return fmt.Errorf("%w: %s", ErrEncoderFinished, c.Kind)
	}
	e.cmds = append(e.cmds, c)
	return nil
}

// TransitionTexture declares that tex moves from layout from to layout to.
func (e *Encoder) TransitionTexture(tex TextureID, from, to TextureLayout) error {
	if tex == InvalidID || from == to {
		return fmt.Errorf("%w: transition tex=%d %s->%s", ErrInvalidCommand, tex, from, to)
	}
	return e.record(Command{Kind: CmdTransitionTexture, Texture: tex, OldLayout: from, NewLayout: to})
}

// ClearTexture fills tex with color. The texture must be in LayoutTransferDst.
func (e *Encoder) ClearTexture(tex TextureID, color [4]float32) error {
	if tex == InvalidID {
		return fmt.Errorf("%w: clear of invalid texture", ErrInvalidCommand)
	}
	return e.record(Command{Kind: CmdClearTexture, Texture: tex, Color: color})
}

// CopyBufferToTexture copies width×height texels from src, laid out with
// bytesPerRow bytes per row, into dst. dst must be in LayoutTransferDst.
func (e *Encoder) CopyBufferToTexture(src BufferID, dst TextureID, bytesPerRow, width, height uint32) error {
	if src == InvalidID || dst == InvalidID || width == 0 || height == 0 {
		return fmt.Errorf("%w: copy buffer %d to texture %d", ErrInvalidCommand, src, dst)
	}
	return e.record(Command{
		Kind:        CmdCopyBufferToTexture,
		Buffer:      src,
		Texture:     dst,
		BytesPerRow: bytesPerRow,
		Width:       width,
		Height:      height,
	})
}

// BufferBarrier makes writes of kind src to buf visible to accesses of kind dst.
func (e *Encoder) BufferBarrier(buf BufferID, src, dst Access) error {
	if buf == InvalidID {
		return fmt.Errorf("%w: barrier on invalid buffer", ErrInvalidCommand)
	}
	return e.record(Command{Kind: CmdBufferBarrier, Buffer: buf, SrcAccess: src, DstAccess: dst})
}

// Dispatch runs kernel with bind group bg over x×y×z work-groups.
func (e *Encoder) Dispatch(kernel KernelID, bg BindGroupID, x, y, z uint32) error {
	if kernel == InvalidID || bg == InvalidID || x == 0 || y == 0 || z == 0 {
		return fmt.Errorf("%w: dispatch kernel=%d groups=%dx%dx%d", ErrInvalidCommand, kernel, x, y, z)
	}
	return e.record(Command{Kind: CmdDispatch, Kernel: kernel, BindGroup: bg, Groups: [3]uint32{x, y, z}})
}

// CopyBufferToBuffer copies size bytes from src to dst.
func (e *Encoder) CopyBufferToBuffer(src, dst BufferID, srcOffset, dstOffset, size uint64) error {
	if src == InvalidID || dst == InvalidID || size == 0 {
		return fmt.Errorf("%w: copy buffer %d to %d", ErrInvalidCommand, src, dst)
	}
	return e.record(Command{
		Kind:      CmdCopyBufferToBuffer,
		Buffer:    src,
		DstBuffer: dst,
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	})
}

// Finish ends recording and returns the command sequence.
func (e *Encoder) Finish() (*CommandSequence, error) {
	if e.state != EncoderRecording {
		return nil, ErrEncoderFinished
	}
	e.state = EncoderFinished
	cmds := e.cmds
	e.cmds = nil
	return &CommandSequence{label: e.label, commands: cmds}, nil
}

// CommandSequence is an immutable list of commands ready for submission.
type CommandSequence struct {
	label    string
	commands []Command
	consumed atomic.Bool
}

// Label returns the debug label of the sequence.
func (s *CommandSequence) Label() string {
	return s.label
}

// Commands returns a copy of the recorded commands.
func (s *CommandSequence) Commands() []Command {
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// Len returns the number of commands.
func (s *CommandSequence) Len() int {
	return len(s.commands)
}

// Consume marks the sequence as submitted and returns its commands. Devices
// call it from Submit; a second call fails with ErrSequenceConsumed.
func (s *CommandSequence) Consume() ([]Command, error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return nil, ErrSequenceConsumed
	}
	return s.commands, nil
}

// Consumed reports whether the sequence has been submitted.
func (s *CommandSequence) Consumed() bool {
	return s.consumed.Load()
}

// String lists the commands, one per line.
func (s *CommandSequence) String() string {
	var b strings.Builder
	b.WriteString(s.label)
	for _, c := range s.commands {
		b.WriteString("\n  ")
		b.WriteString(c.String())
	}
	return b.String()
}
