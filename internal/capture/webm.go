package capture

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Matroska element IDs, marker bits included.
const (
	ebmlSegment       = 0x18538067
	ebmlInfo          = 0x1549A966
	ebmlTimecodeScale = 0x2AD7B1
	ebmlDuration      = 0x4489
	ebmlTracks        = 0x1654AE6B
	ebmlTrackEntry    = 0xAE
	ebmlCodecID       = 0x86
	ebmlCluster       = 0x1F43B675
	ebmlTimecode      = 0xE7
	ebmlSimpleBlock   = 0xA3
	ebmlBlockGroup    = 0xA0
	ebmlBlock         = 0xA1

	defaultTimecodeScale = 1_000_000
)

// Masters are entered rather than skipped.
var ebmlMasters = map[uint32]bool{
	ebmlSegment:    true,
	ebmlInfo:       true,
	ebmlTracks:     true,
	ebmlTrackEntry: true,
	ebmlCluster:    true,
	ebmlBlockGroup: true,
}

func readElementID(data []byte, offset int) (uint32, int, error) {
	if offset >= len(data) {
		return 0, 0, fmt.Errorf("%w: truncated element id", ErrMalformedAudio)
	}
	first := data[offset]
	length := 0
	for mask := byte(0x80); mask >= 0x10; mask >>= 1 {
		length++
		if first&mask != 0 {
			break
		}
		if mask == 0x10 {
			return 0, 0, fmt.Errorf("%w: invalid element id", ErrMalformedAudio)
		}
	}
	if offset+length > len(data) {
		return 0, 0, fmt.Errorf("%w: truncated element id", ErrMalformedAudio)
	}
	var id uint32
	for _, b := range data[offset : offset+length] {
		id = id<<8 | uint32(b)
	}
	return id, length, nil
}

// readElementSize decodes a size vint. unknown is set for the reserved
// all-ones value that live encoders write for open-ended elements.
func readElementSize(data []byte, offset int) (size int64, length int, unknown bool, err error) {
	if offset >= len(data) {
		return 0, 0, false, fmt.Errorf("%w: truncated element size", ErrMalformedAudio)
	}
	first := data[offset]
	length = 1
	mask := byte(0x80)
	for first&mask == 0 {
		mask >>= 1
		length++
		if mask == 0 {
			return 0, 0, false, fmt.Errorf("%w: invalid element size", ErrMalformedAudio)
		}
	}
	if offset+length > len(data) {
		return 0, 0, false, fmt.Errorf("%w: truncated element size", ErrMalformedAudio)
	}

	value := uint64(first & (mask - 1))
	allOnes := value == uint64(mask-1)
	for _, b := range data[offset+1 : offset+length] {
		value = value<<8 | uint64(b)
		allOnes = allOnes && b == 0xFF
	}
	if allOnes {
		return 0, length, true, nil
	}
	if value > math.MaxInt32 {
		return 0, 0, false, fmt.Errorf("%w: element too large", ErrMalformedAudio)
	}
	return int64(value), length, false, nil
}

func readUnsigned(payload []byte) uint64 {
	var v uint64
	for _, b := range payload {
		v = v<<8 | uint64(b)
	}
	return v
}

func readFloat(payload []byte) (float64, bool) {
	switch len(payload) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(payload))), true
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(payload)), true
	}
	return 0, false
}

type webmScan struct {
	timecodeScale uint64
	duration      float64
	hasDuration   bool
	codecID       string
	cluster       int64
	lastTimecode  int64
	blocks        int
	opusSamples   int64
	laced         bool
}

// scanWebM walks the element tree flat, descending into masters. With
// strict set, any structural damage is an error; otherwise the scan stops
// at the first damaged element and keeps what it has.
func scanWebM(data []byte, strict bool) (webmScan, error) {
	scan := webmScan{timecodeScale: defaultTimecodeScale}

	offset := 0
	for offset < len(data) {
		id, idLen, err := readElementID(data, offset)
		if err != nil {
			if strict {
				return scan, err
			}
			break
		}
		size, sizeLen, unknown, err := readElementSize(data, offset+idLen)
		if err != nil {
			if strict {
				return scan, err
			}
			break
		}
		body := offset + idLen + sizeLen

		if ebmlMasters[id] {
			offset = body
			continue
		}
		if unknown {
			return scan, fmt.Errorf("%w: unknown size on element %#x", ErrMalformedAudio, id)
		}
		end := body + int(size)
		if end > len(data) {
			if strict {
				return scan, fmt.Errorf("%w: truncated element %#x", ErrMalformedAudio, id)
			}
			break
		}
		payload := data[body:end]

		switch id {
		case ebmlTimecodeScale:
			if v := readUnsigned(payload); v > 0 {
				scan.timecodeScale = v
			}
		case ebmlDuration:
			if v, ok := readFloat(payload); ok && v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
				scan.duration = v
				scan.hasDuration = true
			}
		case ebmlCodecID:
			scan.codecID = string(payload)
		case ebmlTimecode:
			scan.cluster = int64(readUnsigned(payload))
		case ebmlSimpleBlock, ebmlBlock:
			if err := scan.block(payload, strict); err != nil && strict {
				return scan, err
			}
		}
		offset = end
	}

	return scan, nil
}

func (s *webmScan) block(payload []byte, strict bool) error {
	_, trackLen, _, err := readElementSize(payload, 0)
	if err != nil || trackLen+3 > len(payload) {
		return fmt.Errorf("%w: short block header", ErrMalformedAudio)
	}
	relative := int64(int16(binary.BigEndian.Uint16(payload[trackLen : trackLen+2])))
	flags := payload[trackLen+2]
	frame := payload[trackLen+3:]

	if t := s.cluster + relative; t > s.lastTimecode {
		s.lastTimecode = t
	}
	s.blocks++

	if !strict || s.codecID != "A_OPUS" {
		return nil
	}
	if (flags>>1)&0x03 != 0 {
		s.laced = true
		return nil
	}
	n, err := opusPacketSamples(frame)
	if err != nil {
		return err
	}
	s.opusSamples += int64(n)
	return nil
}

func (s webmScan) seconds(ticks float64) float64 {
	return ticks * float64(s.timecodeScale) / 1e9
}

// webmDeclaredDuration prefers the Info duration. Live encoders usually
// omit it, in which case the last block timestamp is what a player would
// settle on after seeking to the end.
func webmDeclaredDuration(data []byte) (float64, error) {
	scan, err := scanWebM(data, false)
	if err != nil {
		return 0, err
	}
	if scan.hasDuration {
		return scan.seconds(scan.duration), nil
	}
	if scan.blocks == 0 {
		return 0, fmt.Errorf("%w: no duration element and no blocks", ErrDurationUnavailable)
	}
	return scan.seconds(float64(scan.lastTimecode)), nil
}

func webmDecodedDuration(data []byte) (float64, error) {
	scan, err := scanWebM(data, true)
	if err != nil {
		return 0, err
	}
	if scan.blocks == 0 {
		return 0, fmt.Errorf("%w: no audio blocks", ErrMalformedAudio)
	}
	if scan.codecID == "A_OPUS" && !scan.laced && scan.opusSamples > 0 {
		return float64(scan.opusSamples) / opusSampleRate, nil
	}
	return scan.seconds(float64(scan.lastTimecode)), nil
}
