package capture

import (
	"encoding/binary"
	"fmt"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	// Streaming writers leave these in the data size until they finalise.
	wavSizeUnset     = 0
	wavSizeStreaming = 0xFFFFFFFF
)

type wavLayout struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	byteRate      uint32
	blockAlign    uint16
	bitsPerSample uint16
	hasFormat     bool
	dataOffset    int
	dataSize      uint32
}

func parseWAV(data []byte) (wavLayout, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return wavLayout{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrMalformedAudio)
	}

	var layout wavLayout
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return wavLayout{}, fmt.Errorf("%w: short fmt chunk", ErrMalformedAudio)
			}
			fmtChunk := data[body : body+16]
			layout.audioFormat = binary.LittleEndian.Uint16(fmtChunk[0:2])
			layout.channels = binary.LittleEndian.Uint16(fmtChunk[2:4])
			layout.sampleRate = binary.LittleEndian.Uint32(fmtChunk[4:8])
			layout.byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			layout.blockAlign = binary.LittleEndian.Uint16(fmtChunk[12:14])
			layout.bitsPerSample = binary.LittleEndian.Uint16(fmtChunk[14:16])
			layout.hasFormat = true
		case "data":
			if !layout.hasFormat {
				return wavLayout{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformedAudio)
			}
			layout.dataOffset = body
			layout.dataSize = size
			return layout, nil
		}

		// Chunks are word aligned.
		offset = body + int(size) + int(size&1)
	}

	return wavLayout{}, fmt.Errorf("%w: no data chunk", ErrMalformedAudio)
}

func wavDeclaredDuration(data []byte) (float64, error) {
	layout, err := parseWAV(data)
	if err != nil {
		return 0, err
	}
	if layout.byteRate == 0 {
		return 0, fmt.Errorf("%w: zero byte rate", ErrDurationUnavailable)
	}
	if layout.dataSize == wavSizeUnset || layout.dataSize == wavSizeStreaming {
		return 0, fmt.Errorf("%w: data size not finalised", ErrDurationUnavailable)
	}
	return float64(layout.dataSize) / float64(layout.byteRate), nil
}

func wavDecodedDuration(data []byte) (float64, error) {
	layout, err := parseWAV(data)
	if err != nil {
		return 0, err
	}

	switch layout.audioFormat {
	case wavFormatPCM, wavFormatFloat, wavFormatExtensible:
	default:
		return 0, fmt.Errorf("%w: unsupported wav format %d", ErrMalformedAudio, layout.audioFormat)
	}
	if layout.blockAlign == 0 || layout.sampleRate == 0 {
		return 0, fmt.Errorf("%w: invalid wav frame layout", ErrMalformedAudio)
	}

	available := int64(len(data) - layout.dataOffset)
	if declared := int64(layout.dataSize); layout.dataSize != wavSizeStreaming && declared > 0 && declared < available {
		available = declared
	}

	frames := available / int64(layout.blockAlign)
	if frames == 0 {
		return 0, fmt.Errorf("%w: no pcm frames", ErrMalformedAudio)
	}
	return float64(frames) / float64(layout.sampleRate), nil
}
