package capture

import (
	"encoding/binary"
	"fmt"
)

var mp4Containers = map[string]bool{
	"moov": true,
	"trak": true,
	"mdia": true,
	"minf": true,
	"stbl": true,
	"mvex": true,
	"moof": true,
}

type mp4Scan struct {
	movieTimescale uint32
	movieDuration  uint64
	fragmentTotal  uint64
	mediaTimescale uint32
	sampleTicks    uint64
	trexDefault    uint32
	fragmentTicks  uint64
	runs           int
}

type mp4Box struct {
	kind    string
	payload []byte
}

func readMP4Boxes(data []byte) ([]mp4Box, error) {
	var boxes []mp4Box
	offset := 0
	for offset+8 <= len(data) {
		size := uint64(binary.BigEndian.Uint32(data[offset : offset+4]))
		kind := string(data[offset+4 : offset+8])
		header := uint64(8)

		switch size {
		case 1:
			if offset+16 > len(data) {
				return nil, fmt.Errorf("%w: truncated %s box", ErrMalformedAudio, kind)
			}
			size = binary.BigEndian.Uint64(data[offset+8 : offset+16])
			header = 16
		case 0:
			size = uint64(len(data) - offset)
		}
		if size < header || uint64(offset)+size > uint64(len(data)) {
			return nil, fmt.Errorf("%w: truncated %s box", ErrMalformedAudio, kind)
		}

		boxes = append(boxes, mp4Box{kind: kind, payload: data[offset+int(header) : offset+int(size)]})
		offset += int(size)
	}
	return boxes, nil
}

func scanMP4(data []byte) (mp4Scan, error) {
	var scan mp4Scan
	if err := scan.walk(data); err != nil {
		return scan, err
	}
	return scan, nil
}

func (s *mp4Scan) walk(data []byte) error {
	boxes, err := readMP4Boxes(data)
	if err != nil {
		return err
	}

	for _, box := range boxes {
		p := box.payload
		switch {
		case mp4Containers[box.kind]:
			if err := s.walk(p); err != nil {
				return err
			}
		case box.kind == "traf":
			if err := s.fragment(p); err != nil {
				return err
			}
		case box.kind == "mvhd":
			timescale, duration, err := readTimeHeader(p)
			if err != nil {
				return err
			}
			s.movieTimescale, s.movieDuration = timescale, duration
		case box.kind == "mdhd":
			timescale, _, err := readTimeHeader(p)
			if err != nil {
				return err
			}
			s.mediaTimescale = timescale
		case box.kind == "mehd":
			if len(p) < 8 {
				return fmt.Errorf("%w: short mehd", ErrMalformedAudio)
			}
			if p[0] == 1 {
				if len(p) < 12 {
					return fmt.Errorf("%w: short mehd", ErrMalformedAudio)
				}
				s.fragmentTotal = binary.BigEndian.Uint64(p[4:12])
			} else {
				s.fragmentTotal = uint64(binary.BigEndian.Uint32(p[4:8]))
			}
		case box.kind == "trex":
			if len(p) < 16 {
				return fmt.Errorf("%w: short trex", ErrMalformedAudio)
			}
			s.trexDefault = binary.BigEndian.Uint32(p[12:16])
		case box.kind == "stts":
			ticks, err := readSTTS(p)
			if err != nil {
				return err
			}
			s.sampleTicks += ticks
		}
	}
	return nil
}

// readTimeHeader handles both mvhd and mdhd, which share a layout up to
// the duration field.
func readTimeHeader(p []byte) (uint32, uint64, error) {
	if len(p) < 1 {
		return 0, 0, fmt.Errorf("%w: empty time header", ErrMalformedAudio)
	}
	if p[0] == 1 {
		if len(p) < 32 {
			return 0, 0, fmt.Errorf("%w: short v1 time header", ErrMalformedAudio)
		}
		return binary.BigEndian.Uint32(p[20:24]), binary.BigEndian.Uint64(p[24:32]), nil
	}
	if len(p) < 20 {
		return 0, 0, fmt.Errorf("%w: short time header", ErrMalformedAudio)
	}
	return binary.BigEndian.Uint32(p[12:16]), uint64(binary.BigEndian.Uint32(p[16:20])), nil
}

func readSTTS(p []byte) (uint64, error) {
	if len(p) < 8 {
		return 0, fmt.Errorf("%w: short stts", ErrMalformedAudio)
	}
	count := int(binary.BigEndian.Uint32(p[4:8]))
	if 8+count*8 > len(p) {
		return 0, fmt.Errorf("%w: truncated stts", ErrMalformedAudio)
	}
	var ticks uint64
	for i := 0; i < count; i++ {
		entry := p[8+i*8:]
		ticks += uint64(binary.BigEndian.Uint32(entry[0:4])) * uint64(binary.BigEndian.Uint32(entry[4:8]))
	}
	return ticks, nil
}

const (
	tfhdBaseDataOffset     = 0x000001
	tfhdSampleDescription  = 0x000002
	tfhdDefaultDuration    = 0x000008
	trunDataOffset         = 0x000001
	trunFirstSampleFlags   = 0x000004
	trunSampleDuration     = 0x000100
	trunSampleSize         = 0x000200
	trunSampleFlags        = 0x000400
	trunSampleCompositionT = 0x000800
)

func (s *mp4Scan) fragment(data []byte) error {
	boxes, err := readMP4Boxes(data)
	if err != nil {
		return err
	}

	defaultDuration := s.trexDefault
	for _, box := range boxes {
		p := box.payload
		switch box.kind {
		case "tfhd":
			if len(p) < 8 {
				return fmt.Errorf("%w: short tfhd", ErrMalformedAudio)
			}
			flags := binary.BigEndian.Uint32(p[0:4]) & 0xFFFFFF
			offset := 8
			if flags&tfhdBaseDataOffset != 0 {
				offset += 8
			}
			if flags&tfhdSampleDescription != 0 {
				offset += 4
			}
			if flags&tfhdDefaultDuration != 0 {
				if offset+4 > len(p) {
					return fmt.Errorf("%w: short tfhd", ErrMalformedAudio)
				}
				defaultDuration = binary.BigEndian.Uint32(p[offset : offset+4])
			}
		case "trun":
			ticks, err := readTRUN(p, defaultDuration)
			if err != nil {
				return err
			}
			s.fragmentTicks += ticks
			s.runs++
		}
	}
	return nil
}

func readTRUN(p []byte, defaultDuration uint32) (uint64, error) {
	if len(p) < 8 {
		return 0, fmt.Errorf("%w: short trun", ErrMalformedAudio)
	}
	flags := binary.BigEndian.Uint32(p[0:4]) & 0xFFFFFF
	count := int(binary.BigEndian.Uint32(p[4:8]))

	offset := 8
	if flags&trunDataOffset != 0 {
		offset += 4
	}
	if flags&trunFirstSampleFlags != 0 {
		offset += 4
	}

	stride := 0
	for _, bit := range []uint32{trunSampleDuration, trunSampleSize, trunSampleFlags, trunSampleCompositionT} {
		if flags&bit != 0 {
			stride += 4
		}
	}
	if offset+count*stride > len(p) {
		return 0, fmt.Errorf("%w: truncated trun", ErrMalformedAudio)
	}

	if flags&trunSampleDuration == 0 {
		return uint64(count) * uint64(defaultDuration), nil
	}
	var ticks uint64
	for i := 0; i < count; i++ {
		ticks += uint64(binary.BigEndian.Uint32(p[offset+i*stride : offset+i*stride+4]))
	}
	return ticks, nil
}

func mp4DeclaredDuration(data []byte) (float64, error) {
	scan, err := scanMP4(data)
	if err != nil {
		return 0, err
	}
	if scan.movieTimescale == 0 {
		return 0, fmt.Errorf("%w: no movie header", ErrDurationUnavailable)
	}
	switch {
	case scan.movieDuration > 0:
		return float64(scan.movieDuration) / float64(scan.movieTimescale), nil
	case scan.fragmentTotal > 0:
		return float64(scan.fragmentTotal) / float64(scan.movieTimescale), nil
	}
	return 0, fmt.Errorf("%w: movie header has no duration", ErrDurationUnavailable)
}

func mp4DecodedDuration(data []byte) (float64, error) {
	scan, err := scanMP4(data)
	if err != nil {
		return 0, err
	}
	if scan.mediaTimescale == 0 {
		return 0, fmt.Errorf("%w: no media header", ErrMalformedAudio)
	}
	ticks := scan.sampleTicks + scan.fragmentTicks
	if ticks == 0 {
		return 0, fmt.Errorf("%w: no samples", ErrMalformedAudio)
	}
	return float64(ticks) / float64(scan.mediaTimescale), nil
}
