package capture

import "fmt"

const (
	opusSampleRate = 48000
	// 120ms is the longest packet the format allows.
	opusMaxPacketSamples = 5760
)

// Frame sizes at 48 kHz for each TOC config group.
var (
	silkFrameSamples   = [4]int{480, 960, 1920, 2880}
	hybridFrameSamples = [2]int{480, 960}
	celtFrameSamples   = [4]int{120, 240, 480, 960}
)

// opusPacketSamples reads the TOC byte and returns how many 48 kHz samples
// the packet decodes to.
func opusPacketSamples(packet []byte) (int, error) {
	if len(packet) == 0 {
		return 0, fmt.Errorf("%w: empty opus packet", ErrMalformedAudio)
	}

	toc := packet[0]
	config := int(toc >> 3)

	var frameSamples int
	switch {
	case config < 12:
		frameSamples = silkFrameSamples[config%4]
	case config < 16:
		frameSamples = hybridFrameSamples[config%2]
	default:
		frameSamples = celtFrameSamples[config%4]
	}

	var frames int
	switch toc & 0x03 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	default:
		if len(packet) < 2 {
			return 0, fmt.Errorf("%w: opus code 3 packet without frame count", ErrMalformedAudio)
		}
		frames = int(packet[1] & 0x3F)
		if frames == 0 {
			return 0, fmt.Errorf("%w: opus packet with zero frames", ErrMalformedAudio)
		}
	}

	total := frames * frameSamples
	if total > opusMaxPacketSamples {
		return 0, fmt.Errorf("%w: opus packet exceeds 120ms", ErrMalformedAudio)
	}
	return total, nil
}
