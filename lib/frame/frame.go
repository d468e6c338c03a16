package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Magic identifies a frame, encoded big-endian at the start of every file
const Magic uint32 = 0x46465341

const (
	// frameOverhead is magic (4) + flag (1) + trailing checksum (8). No
	// valid frame is shorter than this.
	frameOverhead = 13

	// bodyStart is the offset of the first body byte, right after the
	// magic and the flag
	bodyStart = 5

	// compressionThreshold is the payload size in bytes above which the
	// body is zstd compressed
	compressionThreshold = 512
)

const (
	flagRaw        byte = 0x00
	flagCompressed byte = 0x01
)

// ErrCorruptFrame is returned by Decode for any frame that fails
// validation. Use errors.Is to test for it, the wrapped message carries
// the specific cause.
var ErrCorruptFrame = errors.New("corrupt frame")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// stateless codecs, safe for concurrent use via EncodeAll/DecodeAll
var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode wraps a payload in a frame: big-endian magic, a flag byte, the
// body, then a CRC-32C checksum widened to eight bytes. Payloads larger
// than the compression threshold are zstd compressed, the flag byte
// records which form the body takes. The checksum covers the flag and the
// body, so any bit flip after the magic is detected on decode.
//
// Parameters:
//   - payload: the raw payload to frame
//
// Returns:
//   - []byte: the complete frame, ready to be written to disk
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func Encode(payload []byte) []byte {
	body := payload
	flag := flagRaw
	if len(payload) > compressionThreshold {
		body = encoder.EncodeAll(payload, nil)
		flag = flagCompressed
	}

	out := make([]byte, 0, frameOverhead+len(body))
	out = binary.BigEndian.AppendUint32(out, Magic)
	out = append(out, flag)
	out = append(out, body...)

	crc := crc32.Update(0, castagnoli, out[4:])
	return binary.BigEndian.AppendUint64(out, uint64(crc))
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Decode validates a frame and returns its payload. Frames that are too
// short, carry the wrong magic, fail the checksum, use an unknown flag or
// fail decompression all yield an error wrapping ErrCorruptFrame. The
// returned payload is freshly allocated and owned by the caller.
//
// Parameters:
//   - data: the complete frame as read from disk
//
// Returns:
//   - []byte: the decoded payload
//   - error: nil on success, otherwise an error wrapping ErrCorruptFrame
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func Decode(data []byte) ([]byte, error) {
	if len(data) < frameOverhead {
		return nil, fmt.Errorf("%w: %d bytes is below the minimum frame size", ErrCorruptFrame, len(data))
	}
	if m := binary.BigEndian.Uint32(data[0:4]); m != Magic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrCorruptFrame, m)
	}

	flag := data[4]
	body := data[bodyStart : len(data)-8]
	stored := binary.BigEndian.Uint64(data[len(data)-8:])

	// the checksum covers everything between magic and trailer
	crc := crc32.Update(0, castagnoli, data[4:len(data)-8])
	if uint64(crc) != stored {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptFrame)
	}

	switch flag {
	case flagRaw:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case flagCompressed:
		out, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompression failed: %v", ErrCorruptFrame, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown flag %#02x", ErrCorruptFrame, flag)
	}
}

// IsCompressed reports whether a frame's body is zstd compressed without
// decoding the payload. Only the header is validated.
//
// Parameters:
//   - data: the complete frame as read from disk
//
// Returns:
//   - bool: true if the body is compressed
//   - error: nil on success, otherwise an error wrapping ErrCorruptFrame
func IsCompressed(data []byte) (bool, error) {
	if len(data) < frameOverhead {
		return false, fmt.Errorf("%w: %d bytes is below the minimum frame size", ErrCorruptFrame, len(data))
	}
	if m := binary.BigEndian.Uint32(data[0:4]); m != Magic {
		return false, fmt.Errorf("%w: bad magic %#08x", ErrCorruptFrame, m)
	}
	switch data[4] {
	case flagRaw:
		return false, nil
	case flagCompressed:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown flag %#02x", ErrCorruptFrame, data[4])
	}
}
