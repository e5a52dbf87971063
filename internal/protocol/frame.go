package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Frame constants
const (
	FramePrefix = 0x000055AA
	FrameSuffix = 0x0000AA99

	// HeaderSize is prefix + sequence + command + length
	HeaderSize = 16

	// TrailerSize is CRC + suffix
	TrailerSize = 8

	// MinFrameSize is a frame with an empty payload
	MinFrameSize = HeaderSize + TrailerSize

	// MaxFrameSize bounds the length field accepted from the wire
	MaxFrameSize = 64 * 1024
)

// Frame is a single wire frame before payload decryption
type Frame struct {
	SeqNr   uint32
	Command CommandType
	RetCode *uint32
	Payload []byte // Still encrypted/encoded as on the wire
	Raw     []byte // Original frame bytes for debugging
}

// String returns a debug representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{seq=%d, command=%s, payload_len=%d, raw_len=%d}",
		f.SeqNr, f.Command, len(f.Payload), len(f.Raw))
}

// BuildFrame assembles a complete client-to-device frame around an already
// sealed payload.
func BuildFrame(seqNr uint32, command CommandType, payload []byte) []byte {
	frame := make([]byte, HeaderSize, HeaderSize+len(payload)+TrailerSize)

	binary.BigEndian.PutUint32(frame[0:4], FramePrefix)
	binary.BigEndian.PutUint32(frame[4:8], seqNr)
	binary.BigEndian.PutUint32(frame[8:12], uint32(command))
	binary.BigEndian.PutUint32(frame[12:16], uint32(len(payload)+TrailerSize))

	frame = append(frame, payload...)
	frame = binary.BigEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame))
	frame = binary.BigEndian.AppendUint32(frame, FrameSuffix)

	return frame
}

// SplitFrames splits a buffer into consecutive frames, validating framing and
// checksums. An empty buffer yields no frames.
func SplitFrames(buf []byte) ([]*Frame, error) {
	var frames []*Frame

	for offset := 0; offset < len(buf); {
		rest := buf[offset:]
		size, err := frameSize(rest)
		if err != nil {
			return nil, fmt.Errorf("frame at offset %d: %w", offset, err)
		}
		if len(rest) < size {
			return nil, fmt.Errorf("frame at offset %d: %w: truncated (have %d bytes, need %d)",
				offset, ErrMalformedFrame, len(rest), size)
		}

		frame, err := parseFrame(rest[:size])
		if err != nil {
			return nil, fmt.Errorf("frame at offset %d: %w", offset, err)
		}

		frames = append(frames, frame)
		offset += size
	}

	return frames, nil
}

// frameSize returns the total size declared by the header at the start of buf
func frameSize(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, fmt.Errorf("%w: %d bytes is shorter than a frame header", ErrMalformedFrame, len(buf))
	}
	if prefix := binary.BigEndian.Uint32(buf[0:4]); prefix != FramePrefix {
		return 0, fmt.Errorf("%w: bad prefix 0x%08X", ErrMalformedFrame, prefix)
	}

	length := binary.BigEndian.Uint32(buf[12:16])
	if length < TrailerSize || length > MaxFrameSize {
		return 0, fmt.Errorf("%w: invalid length field %d", ErrMalformedFrame, length)
	}

	return HeaderSize + int(length), nil
}

// parseFrame decodes exactly one frame
func parseFrame(raw []byte) (*Frame, error) {
	end := len(raw)

	if suffix := binary.BigEndian.Uint32(raw[end-4:]); suffix != FrameSuffix {
		return nil, fmt.Errorf("%w: bad suffix 0x%08X", ErrMalformedFrame, suffix)
	}

	want := binary.BigEndian.Uint32(raw[end-TrailerSize : end-4])
	if got := crc32.ChecksumIEEE(raw[:end-TrailerSize]); got != want {
		return nil, fmt.Errorf("%w: got 0x%08X, frame says 0x%08X", ErrCRCMismatch, got, want)
	}

	frame := &Frame{
		SeqNr:   binary.BigEndian.Uint32(raw[4:8]),
		Command: CommandType(binary.BigEndian.Uint32(raw[8:12])),
		Raw:     raw,
	}

	body := raw[HeaderSize : end-TrailerSize]

	// Device replies put a small return code in front of the payload. Real
	// payloads never start with three zero bytes.
	if len(body) >= 4 && binary.BigEndian.Uint32(body[0:4])&0xFFFFFF00 == 0 {
		rc := binary.BigEndian.Uint32(body[0:4])
		frame.RetCode = &rc
		body = body[4:]
	}

	frame.Payload = bytes.Clone(body)
	return frame, nil
}

// Remaining returns how many more bytes are needed before buf holds only
// complete frames. It returns 0 when buf is complete or when the header is
// unreadable, in which case Parse reports the problem.
func Remaining(buf []byte) int {
	for offset := 0; offset < len(buf); {
		rest := buf[offset:]
		if len(rest) < HeaderSize {
			var prefix [4]byte
			binary.BigEndian.PutUint32(prefix[:], FramePrefix)
			if n := min(len(rest), len(prefix)); !bytes.Equal(rest[:n], prefix[:n]) {
				return 0
			}
			return HeaderSize - len(rest)
		}

		size, err := frameSize(rest)
		if err != nil {
			return 0
		}
		if len(rest) < size {
			return size - len(rest)
		}
		offset += size
	}
	return 0
}
