// Package capturetest builds small, structurally valid audio files for tests.
package capturetest

import (
	"bytes"
	"encoding/binary"
	"math"
)

const opusPreSkip = 312

// WAV returns 16-bit mono PCM of the given length.
func WAV(seconds float64, sampleRate int) []byte {
	return WAVWithDeclared(seconds, sampleRate, -1)
}

// WAVWithDeclared writes frames for seconds but states declaredSeconds in
// the data chunk header. Pass declaredSeconds < 0 to state the true size.
func WAVWithDeclared(seconds float64, sampleRate int, declaredSeconds float64) []byte {
	const blockAlign = 2
	frames := int(math.Round(seconds * float64(sampleRate)))
	dataSize := uint32(frames * blockAlign)
	declared := dataSize
	if declaredSeconds >= 0 {
		declared = uint32(math.Round(declaredSeconds*float64(sampleRate))) * blockAlign
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, declared)
	samples := make([]byte, dataSize)
	for i := 0; i+1 < len(samples); i += 2 {
		v := int16(8000 * math.Sin(float64(i/2)*2*math.Pi*440/float64(sampleRate)))
		binary.LittleEndian.PutUint16(samples[i:], uint16(v))
	}
	buf.Write(samples)
	return buf.Bytes()
}

// opusPacket is a 20ms CELT fullband packet: TOC config 31, code 0.
func opusPacket(n int) []byte {
	packet := make([]byte, 40)
	packet[0] = 31 << 3
	for i := 1; i < len(packet); i++ {
		packet[i] = byte(n + i)
	}
	return packet
}

// OpusPacketSeconds is the length of each packet the builders emit.
const OpusPacketSeconds = 0.02

func oggPage(headerType byte, granule uint64, sequence uint32, packets [][]byte) []byte {
	var lacing []byte
	var body []byte
	for _, packet := range packets {
		n := len(packet)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		body = append(body, packet...)
	}

	var buf bytes.Buffer
	buf.WriteString("OggS")
	buf.WriteByte(0)
	buf.WriteByte(headerType)
	_ = binary.Write(&buf, binary.LittleEndian, granule)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0x5EED))
	_ = binary.Write(&buf, binary.LittleEndian, sequence)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteByte(byte(len(lacing)))
	buf.Write(lacing)
	buf.Write(body)
	return buf.Bytes()
}

// OggOpus returns an Ogg Opus file with the given number of 20ms packets.
// declaredSeconds overrides the final granule position when >= 0, which
// reproduces encoders that write misleading stream lengths.
func OggOpus(packets int, declaredSeconds float64) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1
	head[9] = 1
	binary.LittleEndian.PutUint16(head[10:12], opusPreSkip)
	binary.LittleEndian.PutUint32(head[12:16], 48000)

	tags := []byte("OpusTags")
	tags = binary.LittleEndian.AppendUint32(tags, 4)
	tags = append(tags, "test"...)
	tags = binary.LittleEndian.AppendUint32(tags, 0)

	var out []byte
	out = append(out, oggPage(0x02, 0, 0, [][]byte{head})...)
	out = append(out, oggPage(0x00, 0, 1, [][]byte{tags})...)

	const perPage = 50
	var granule uint64
	sequence := uint32(2)
	for start := 0; start < packets; start += perPage {
		end := start + perPage
		if end > packets {
			end = packets
		}
		batch := make([][]byte, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, opusPacket(i))
			granule += 960
		}
		headerType := byte(0)
		pageGranule := granule
		if end == packets {
			headerType = 0x04
			if declaredSeconds >= 0 {
				pageGranule = uint64(opusPreSkip) + uint64(declaredSeconds*48000)
			}
		}
		out = append(out, oggPage(headerType, pageGranule, sequence, batch)...)
		sequence++
	}
	return out
}

func ebmlSize(n int) []byte {
	size := make([]byte, 8)
	binary.BigEndian.PutUint64(size, uint64(n))
	size[0] = 0x01
	return size
}

var ebmlUnknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func ebml(id []byte, children ...[]byte) []byte {
	payload := bytes.Join(children, nil)
	out := append([]byte(nil), id...)
	out = append(out, ebmlSize(len(payload))...)
	return append(out, payload...)
}

func ebmlOpen(id []byte, children ...[]byte) []byte {
	out := append([]byte(nil), id...)
	out = append(out, ebmlUnknownSize...)
	return append(out, bytes.Join(children, nil)...)
}

// WebMOpus returns a live-style WebM file: unknown-size segment and
// clusters, one SimpleBlock per 20ms Opus packet, no Cues. When
// declaredSeconds >= 0 an Info/Duration element is written.
func WebMOpus(packets int, declaredSeconds float64) []byte {
	header := ebml([]byte{0x1A, 0x45, 0xDF, 0xA3},
		ebml([]byte{0x42, 0x86}, []byte{0x01}),
		ebml([]byte{0x42, 0x82}, []byte("webm")),
	)

	infoChildren := [][]byte{ebml([]byte{0x2A, 0xD7, 0xB1}, []byte{0x0F, 0x42, 0x40})}
	if declaredSeconds >= 0 {
		duration := make([]byte, 8)
		binary.BigEndian.PutUint64(duration, math.Float64bits(declaredSeconds*1000))
		infoChildren = append(infoChildren, ebml([]byte{0x44, 0x89}, duration))
	}
	info := ebml([]byte{0x15, 0x49, 0xA9, 0x66}, infoChildren...)

	tracks := ebml([]byte{0x16, 0x54, 0xAE, 0x6B},
		ebml([]byte{0xAE},
			ebml([]byte{0xD7}, []byte{0x01}),
			ebml([]byte{0x86}, []byte("A_OPUS")),
		),
	)

	var clusters []byte
	const perCluster = 500
	for start := 0; start < packets; start += perCluster {
		end := start + perCluster
		if end > packets {
			end = packets
		}
		clusterMs := start * 20
		children := [][]byte{ebml([]byte{0xE7}, binary.BigEndian.AppendUint32(nil, uint32(clusterMs)))}
		for i := start; i < end; i++ {
			block := []byte{0x81}
			block = binary.BigEndian.AppendUint16(block, uint16(i*20-clusterMs))
			block = append(block, 0x80)
			block = append(block, opusPacket(i)...)
			children = append(children, ebml([]byte{0xA3}, block))
		}
		clusters = append(clusters, ebmlOpen([]byte{0x1F, 0x43, 0xB6, 0x75}, children...)...)
	}

	segment := ebmlOpen([]byte{0x18, 0x53, 0x80, 0x67}, info, tracks, clusters)
	return append(header, segment...)
}

func box(kind string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	out := binary.BigEndian.AppendUint32(nil, uint32(8+len(body)))
	out = append(out, kind...)
	return append(out, body...)
}

func fullBox(version byte, flags uint32) []byte {
	return []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
}

func timeHeader(timescale, duration uint32, padding int) []byte {
	p := fullBox(0, 0)
	p = binary.BigEndian.AppendUint32(p, 0)
	p = binary.BigEndian.AppendUint32(p, 0)
	p = binary.BigEndian.AppendUint32(p, timescale)
	p = binary.BigEndian.AppendUint32(p, duration)
	return append(p, make([]byte, padding)...)
}

const aacFrameTicks = 1024

func ftyp() []byte {
	return box("ftyp", []byte("M4A "), []byte{0, 0, 0, 0}, []byte("M4A isomiso2"))
}

// MP4 returns a progressive AAC file with frames of 1024 ticks at 48 kHz.
// The movie header states declaredSeconds when >= 0, otherwise the real
// length.
func MP4(frames int, declaredSeconds float64) []byte {
	actual := uint32(frames * aacFrameTicks)
	movieDuration := uint32(math.Round(float64(actual) / 48))
	if declaredSeconds >= 0 {
		movieDuration = uint32(declaredSeconds * 1000)
	}

	stts := fullBox(0, 0)
	stts = binary.BigEndian.AppendUint32(stts, 1)
	stts = binary.BigEndian.AppendUint32(stts, uint32(frames))
	stts = binary.BigEndian.AppendUint32(stts, aacFrameTicks)

	moov := box("moov",
		box("mvhd", timeHeader(1000, movieDuration, 80)),
		box("trak",
			box("mdia",
				box("mdhd", timeHeader(48000, actual, 4)),
				box("minf", box("stbl", box("stts", stts))),
			),
		),
	)
	return bytes.Join([][]byte{ftyp(), moov, box("mdat", make([]byte, frames*6))}, nil)
}

// FragmentedMP4 returns a fragmented file whose movie header has no
// duration, as produced by recorders that stream fragments.
func FragmentedMP4(frames int) []byte {
	trex := fullBox(0, 0)
	trex = binary.BigEndian.AppendUint32(trex, 1)
	trex = binary.BigEndian.AppendUint32(trex, 1)
	trex = binary.BigEndian.AppendUint32(trex, aacFrameTicks)
	trex = binary.BigEndian.AppendUint32(trex, 0)
	trex = binary.BigEndian.AppendUint32(trex, 0)

	moov := box("moov",
		box("mvhd", timeHeader(1000, 0, 80)),
		box("mvex", box("trex", trex)),
		box("trak", box("mdia", box("mdhd", timeHeader(48000, 0, 4)))),
	)

	tfhd := fullBox(0, 0)
	tfhd = binary.BigEndian.AppendUint32(tfhd, 1)
	trun := fullBox(0, 0)
	trun = binary.BigEndian.AppendUint32(trun, uint32(frames))

	moof := box("moof", box("traf", box("tfhd", tfhd), box("trun", trun)))
	return bytes.Join([][]byte{ftyp(), moov, moof, box("mdat", make([]byte, frames*6))}, nil)
}
