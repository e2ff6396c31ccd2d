package capture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-lab/internal/capture/capturetest"
)

func TestDetectContainer(t *testing.T) {
	cases := []struct {
		name     string
		data     []byte
		declared string
		want     Container
	}{
		{"wav", capturetest.WAV(1, 8000), "", ContainerWAV},
		{"ogg", capturetest.OggOpus(60, -1), "", ContainerOgg},
		{"webm", capturetest.WebMOpus(60, -1), "", ContainerWebM},
		{"mp4", capturetest.MP4(60, -1), "", ContainerMP4},
		{"declared fallback", []byte{0x00, 0x01, 0x02}, "audio/webm;codecs=opus", ContainerWebM},
		{"unknown", []byte{0x00, 0x01, 0x02}, "application/pdf", ContainerUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DetectContainer(tc.data, tc.declared))
		})
	}
}

func TestWAVDurations(t *testing.T) {
	data := capturetest.WAV(2.5, 8000)

	declared, err := MeasureDuration(data, ContainerWAV, MethodMetadata)
	require.NoError(t, err)
	require.InDelta(t, 2.5, declared, 0.001)

	decoded, err := MeasureDuration(data, ContainerWAV, MethodDecodeProbe)
	require.NoError(t, err)
	require.InDelta(t, 2.5, decoded, 0.001)
}

func TestWAVMetadataCanLie(t *testing.T) {
	data := capturetest.WAVWithDeclared(0.6, 8000, 12)

	declared, err := MeasureDuration(data, ContainerWAV, MethodMetadata)
	require.NoError(t, err)
	require.InDelta(t, 12, declared, 0.001)

	decoded, err := MeasureDuration(data, ContainerWAV, MethodDecodeProbe)
	require.NoError(t, err)
	require.InDelta(t, 0.6, decoded, 0.001)
}

func TestOggOpusDurations(t *testing.T) {
	data := capturetest.OggOpus(150, -1)
	want := (150*960 - 312) / 48000.0

	declared, err := MeasureDuration(data, ContainerOgg, MethodMetadata)
	require.NoError(t, err)
	require.InDelta(t, want, declared, 0.001)

	decoded, err := MeasureDuration(data, ContainerOgg, MethodDecodeProbe)
	require.NoError(t, err)
	require.InDelta(t, want, decoded, 0.001)
}

func TestOggDecodeProbeIgnoresGranule(t *testing.T) {
	data := capturetest.OggOpus(30, 20)

	declared, err := MeasureDuration(data, ContainerOgg, MethodMetadata)
	require.NoError(t, err)
	require.InDelta(t, 20, declared, 0.001)

	decoded, err := MeasureDuration(data, ContainerOgg, MethodDecodeProbe)
	require.NoError(t, err)
	require.InDelta(t, 0.6-312.0/48000, decoded, 0.001)
}

func TestOggTruncatedFailsDecode(t *testing.T) {
	data := capturetest.OggOpus(100, -1)
	_, err := MeasureDuration(data[:len(data)-10], ContainerOgg, MethodDecodeProbe)
	require.ErrorIs(t, err, ErrMalformedAudio)
}

func TestWebMDurations(t *testing.T) {
	live := capturetest.WebMOpus(600, -1)

	declared, err := MeasureDuration(live, ContainerWebM, MethodMetadata)
	require.NoError(t, err)
	require.InDelta(t, 11.98, declared, 0.001)

	decoded, err := MeasureDuration(live, ContainerWebM, MethodDecodeProbe)
	require.NoError(t, err)
	require.InDelta(t, 12.0, decoded, 0.001)

	withInfo := capturetest.WebMOpus(100, 7.5)
	declared, err = MeasureDuration(withInfo, ContainerWebM, MethodMetadata)
	require.NoError(t, err)
	require.InDelta(t, 7.5, declared, 0.001)

	decoded, err = MeasureDuration(withInfo, ContainerWebM, MethodDecodeProbe)
	require.NoError(t, err)
	require.InDelta(t, 2.0, decoded, 0.001)
}

func TestWebMWithoutBlocks(t *testing.T) {
	empty := capturetest.WebMOpus(0, -1)

	_, err := MeasureDuration(empty, ContainerWebM, MethodMetadata)
	require.ErrorIs(t, err, ErrDurationUnavailable)

	_, err = MeasureDuration(empty, ContainerWebM, MethodDecodeProbe)
	require.ErrorIs(t, err, ErrMalformedAudio)
}

func TestMP4Durations(t *testing.T) {
	data := capturetest.MP4(235, -1)
	want := 235 * 1024 / 48000.0

	declared, err := MeasureDuration(data, ContainerMP4, MethodMetadata)
	require.NoError(t, err)
	require.InDelta(t, want, declared, 0.001)

	decoded, err := MeasureDuration(data, ContainerMP4, MethodDecodeProbe)
	require.NoError(t, err)
	require.InDelta(t, want, decoded, 0.001)

	lying := capturetest.MP4(235, 30)
	declared, err = MeasureDuration(lying, ContainerMP4, MethodMetadata)
	require.NoError(t, err)
	require.InDelta(t, 30, declared, 0.001)
}

func TestFragmentedMP4(t *testing.T) {
	data := capturetest.FragmentedMP4(470)

	_, err := MeasureDuration(data, ContainerMP4, MethodMetadata)
	require.ErrorIs(t, err, ErrDurationUnavailable)

	decoded, err := MeasureDuration(data, ContainerMP4, MethodDecodeProbe)
	require.NoError(t, err)
	require.InDelta(t, 470*1024/48000.0, decoded, 0.001)
}

func TestOpusPacketSamples(t *testing.T) {
	cases := []struct {
		name   string
		packet []byte
		want   int
	}{
		{"silk 10ms", []byte{0 << 3}, 480},
		{"silk 60ms", []byte{3 << 3}, 2880},
		{"hybrid 20ms", []byte{13 << 3}, 960},
		{"celt 2.5ms", []byte{16 << 3}, 120},
		{"celt 20ms two frames", []byte{31<<3 | 1}, 1920},
		{"celt 5ms code 3", []byte{17<<3 | 3, 4}, 960},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := opusPacketSamples(tc.packet)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := opusPacketSamples(nil)
	require.ErrorIs(t, err, ErrMalformedAudio)
	_, err = opusPacketSamples([]byte{3<<3 | 3, 3})
	require.ErrorIs(t, err, ErrMalformedAudio)
}

func TestUnsupportedContainer(t *testing.T) {
	_, err := MeasureDuration([]byte("hello"), ContainerUnknown, MethodMetadata)
	require.ErrorIs(t, err, ErrDurationUnavailable)
}
