package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math/rand"
	"testing"
)

// reframe builds a frame around the given flag and body with a valid
// checksum, used to reach decode paths a normal Encode never produces
func reframe(flag byte, body []byte) []byte {
	out := make([]byte, 0, frameOverhead+len(body))
	out = binary.BigEndian.AppendUint32(out, Magic)
	out = append(out, flag)
	out = append(out, body...)
	crc := crc32.Update(0, castagnoli, out[4:])
	return binary.BigEndian.AppendUint64(out, uint64(crc))
}

// TestRoundTripRaw tests that small payloads are framed uncompressed and
// decode back to the original bytes
func TestRoundTripRaw(t *testing.T) {
	payload := []byte("small payload")

	data := Encode(payload)
	if data[4] != flagRaw {
		t.Errorf("Expected raw flag, got %#02x", data[4])
	}
	if len(data) != frameOverhead+len(payload) {
		t.Errorf("Expected %d frame bytes, got %d", frameOverhead+len(payload), len(data))
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected %q, got %q", payload, got)
	}
}

// TestRoundTripCompressed tests that large payloads are compressed and
// decode back to the original bytes
func TestRoundTripCompressed(t *testing.T) {
	payload := bytes.Repeat([]byte("varstore "), 200) // 1800 bytes, highly compressible

	data := Encode(payload)
	if data[4] != flagCompressed {
		t.Errorf("Expected compressed flag, got %#02x", data[4])
	}
	if len(data) >= frameOverhead+len(payload) {
		t.Errorf("Expected compression to shrink the frame, got %d bytes for a %d byte payload", len(data), len(payload))
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Decoded payload differs from original")
	}
}

// TestCompressionThreshold tests the exact boundary between raw and
// compressed frames, including incompressible input
func TestCompressionThreshold(t *testing.T) {
	atLimit := bytes.Repeat([]byte{'a'}, compressionThreshold)
	data := Encode(atLimit)
	if data[4] != flagRaw {
		t.Errorf("Expected payload at the threshold to stay raw, got flag %#02x", data[4])
	}

	// one byte over, and incompressible on top
	rng := rand.New(rand.NewSource(1))
	overLimit := make([]byte, compressionThreshold+1)
	rng.Read(overLimit)

	data = Encode(overLimit)
	if data[4] != flagCompressed {
		t.Errorf("Expected payload over the threshold to be compressed, got flag %#02x", data[4])
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !bytes.Equal(got, overLimit) {
		t.Error("Decoded payload differs from original")
	}
}

// TestEmptyPayload tests that a zero-length payload frames and decodes cleanly
func TestEmptyPayload(t *testing.T) {
	data := Encode(nil)
	if len(data) != frameOverhead {
		t.Errorf("Expected bare frame, got %d bytes", len(data))
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(got))
	}
}

// TestShortFrame tests that inputs below the minimum frame size are rejected
func TestShortFrame(t *testing.T) {
	testCases := []struct {
		name  string
		input []byte
	}{
		{"Nil", nil},
		{"FewBytes", []byte{0x46, 0x46, 0x53}},
		{"OneBelowMinimum", make([]byte, frameOverhead-1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.input); !errors.Is(err, ErrCorruptFrame) {
				t.Errorf("Expected ErrCorruptFrame, got %v", err)
			}
		})
	}
}

// TestCorruptFrame tests that bit flips anywhere in the frame are detected
func TestCorruptFrame(t *testing.T) {
	payload := []byte("some payload worth protecting")

	t.Run("BadMagic", func(t *testing.T) {
		data := Encode(payload)
		data[0] ^= 0xFF
		if _, err := Decode(data); !errors.Is(err, ErrCorruptFrame) {
			t.Errorf("Expected ErrCorruptFrame, got %v", err)
		}
	})

	t.Run("FlippedFlag", func(t *testing.T) {
		data := Encode(payload)
		data[4] ^= 0x01 // covered by the checksum
		if _, err := Decode(data); !errors.Is(err, ErrCorruptFrame) {
			t.Errorf("Expected ErrCorruptFrame, got %v", err)
		}
	})

	t.Run("FlippedBodyByte", func(t *testing.T) {
		data := Encode(payload)
		data[bodyStart+3] ^= 0x01
		if _, err := Decode(data); !errors.Is(err, ErrCorruptFrame) {
			t.Errorf("Expected ErrCorruptFrame, got %v", err)
		}
	})

	t.Run("FlippedChecksum", func(t *testing.T) {
		data := Encode(payload)
		data[len(data)-1] ^= 0x80
		if _, err := Decode(data); !errors.Is(err, ErrCorruptFrame) {
			t.Errorf("Expected ErrCorruptFrame, got %v", err)
		}
	})

	t.Run("EveryBodyByte", func(t *testing.T) {
		data := Encode(payload)
		for i := bodyStart; i < len(data)-8; i++ {
			data[i] ^= 0xA5
			if _, err := Decode(data); !errors.Is(err, ErrCorruptFrame) {
				t.Errorf("Byte %d: expected ErrCorruptFrame, got %v", i, err)
			}
			data[i] ^= 0xA5
		}
	})
}

// TestTruncatedFrame tests that a frame cut off mid-body fails the checksum
func TestTruncatedFrame(t *testing.T) {
	data := Encode(bytes.Repeat([]byte("x"), 100))
	if _, err := Decode(data[:len(data)-5]); !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("Expected ErrCorruptFrame, got %v", err)
	}
}

// TestUnknownFlag tests that a well-checksummed frame with an unsupported
// flag byte is still rejected
func TestUnknownFlag(t *testing.T) {
	data := reframe(0x07, []byte("body"))
	if _, err := Decode(data); !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("Expected ErrCorruptFrame, got %v", err)
	}
}

// TestCorruptCompressedBody tests that a checksum-valid frame whose body is
// not valid zstd fails decoding
func TestCorruptCompressedBody(t *testing.T) {
	data := reframe(flagCompressed, []byte("this is not zstd"))
	if _, err := Decode(data); !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("Expected ErrCorruptFrame, got %v", err)
	}
}

// TestIsCompressed tests the header-only compression probe
func TestIsCompressed(t *testing.T) {
	small := Encode([]byte("x"))
	if got, err := IsCompressed(small); err != nil || got {
		t.Errorf("Expected raw, got %v (err %v)", got, err)
	}

	large := Encode(bytes.Repeat([]byte("y"), 1024))
	if got, err := IsCompressed(large); err != nil || !got {
		t.Errorf("Expected compressed, got %v (err %v)", got, err)
	}

	if _, err := IsCompressed([]byte{1, 2, 3}); !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("Expected ErrCorruptFrame, got %v", err)
	}
}

// TestDecodeReturnsCopy tests that the decoded payload does not alias the
// frame buffer
func TestDecodeReturnsCopy(t *testing.T) {
	payload := []byte("alias check")
	data := Encode(payload)

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got[0] = 'X'
	again, err := Decode(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if again[0] != 'a' {
		t.Error("Decode should return a copy, not a view into the frame")
	}
}
