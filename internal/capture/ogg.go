package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var oggCapture = []byte("OggS")

const oggHeaderSize = 27

type oggPage struct {
	granule  int64
	segments []byte
	body     []byte
	next     int
}

func readOggPage(data []byte, offset int) (oggPage, error) {
	if offset+oggHeaderSize > len(data) {
		return oggPage{}, fmt.Errorf("%w: truncated ogg page header", ErrMalformedAudio)
	}
	if !bytes.Equal(data[offset:offset+4], oggCapture) {
		return oggPage{}, fmt.Errorf("%w: missing ogg capture pattern at %d", ErrMalformedAudio, offset)
	}

	count := int(data[offset+26])
	segStart := offset + oggHeaderSize
	if segStart+count > len(data) {
		return oggPage{}, fmt.Errorf("%w: truncated ogg segment table", ErrMalformedAudio)
	}
	segments := data[segStart : segStart+count]

	bodyLen := 0
	for _, lace := range segments {
		bodyLen += int(lace)
	}
	bodyStart := segStart + count
	if bodyStart+bodyLen > len(data) {
		return oggPage{}, fmt.Errorf("%w: truncated ogg page body", ErrMalformedAudio)
	}

	return oggPage{
		granule:  int64(binary.LittleEndian.Uint64(data[offset+6 : offset+14])),
		segments: segments,
		body:     data[bodyStart : bodyStart+bodyLen],
		next:     bodyStart + bodyLen,
	}, nil
}

type oggCodec struct {
	name       string
	sampleRate int64
	preSkip    int64
}

func identifyOggCodec(first []byte) (oggCodec, error) {
	switch {
	case len(first) >= 19 && bytes.HasPrefix(first, []byte("OpusHead")):
		return oggCodec{
			name:       "opus",
			sampleRate: opusSampleRate,
			preSkip:    int64(binary.LittleEndian.Uint16(first[10:12])),
		}, nil
	case len(first) >= 16 && bytes.HasPrefix(first, []byte("\x01vorbis")):
		rate := int64(binary.LittleEndian.Uint32(first[12:16]))
		if rate == 0 {
			return oggCodec{}, fmt.Errorf("%w: vorbis header without sample rate", ErrMalformedAudio)
		}
		return oggCodec{name: "vorbis", sampleRate: rate}, nil
	}
	return oggCodec{}, fmt.Errorf("%w: unsupported ogg codec", ErrDurationUnavailable)
}

func firstOggPacket(data []byte) (oggCodec, error) {
	page, err := readOggPage(data, 0)
	if err != nil {
		return oggCodec{}, err
	}
	return identifyOggCodec(page.body)
}

// oggDeclaredDuration reads the granule position of the last page, which
// is what players report as the stream length.
func oggDeclaredDuration(data []byte) (float64, error) {
	codec, err := firstOggPacket(data)
	if err != nil {
		return 0, err
	}

	end := len(data)
	for end > 0 {
		at := bytes.LastIndex(data[:end], oggCapture)
		if at < 0 {
			break
		}
		page, err := readOggPage(data, at)
		if err == nil && page.granule >= 0 {
			samples := page.granule - codec.preSkip
			if samples <= 0 {
				return 0, fmt.Errorf("%w: no samples after pre-skip", ErrDurationUnavailable)
			}
			return float64(samples) / float64(codec.sampleRate), nil
		}
		end = at
	}
	return 0, fmt.Errorf("%w: no ogg page with a granule position", ErrDurationUnavailable)
}

// oggDecodedDuration walks every page. Opus packets are sized from their
// TOC bytes; other codecs fall back to the largest granule seen on a page
// that parsed cleanly.
func oggDecodedDuration(data []byte) (float64, error) {
	codec, err := firstOggPacket(data)
	if err != nil {
		return 0, err
	}

	var (
		samples    int64
		maxGranule int64
		packets    int
		partial    []byte
	)
	for offset := 0; offset < len(data); {
		page, err := readOggPage(data, offset)
		if err != nil {
			return 0, err
		}
		if page.granule > maxGranule {
			maxGranule = page.granule
		}

		cursor := 0
		for _, lace := range page.segments {
			partial = append(partial, page.body[cursor:cursor+int(lace)]...)
			cursor += int(lace)
			if lace == 255 {
				continue
			}

			// Packets 0 and 1 are the identification and comment headers.
			if packets >= 2 && codec.name == "opus" {
				n, err := opusPacketSamples(partial)
				if err != nil {
					return 0, err
				}
				samples += int64(n)
			}
			packets++
			partial = partial[:0]
		}
		offset = page.next
	}

	if packets <= 2 {
		return 0, fmt.Errorf("%w: no audio packets", ErrMalformedAudio)
	}
	if codec.name != "opus" {
		samples = maxGranule
	}

	samples -= codec.preSkip
	if samples <= 0 {
		return 0, fmt.Errorf("%w: no samples after pre-skip", ErrMalformedAudio)
	}
	return float64(samples) / float64(codec.sampleRate), nil
}
