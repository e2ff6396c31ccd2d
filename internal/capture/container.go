package capture

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Container is the audio file format family.
type Container string

const (
	ContainerWAV     Container = "wav"
	ContainerOgg     Container = "ogg"
	ContainerWebM    Container = "webm"
	ContainerMP4     Container = "mp4"
	ContainerUnknown Container = "unknown"
)

// DetectContainer sniffs the bytes first and falls back to the declared
// MIME type when the content is not recognised.
func DetectContainer(data []byte, declared string) Container {
	for mtype := mimetype.Detect(data); mtype != nil; mtype = mtype.Parent() {
		if c := containerFromMIME(mtype.String()); c != ContainerUnknown {
			return c
		}
	}
	return containerFromMIME(declared)
}

func containerFromMIME(value string) Container {
	mime := strings.ToLower(strings.TrimSpace(value))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch mime {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return ContainerWAV
	case "audio/ogg", "application/ogg", "audio/opus", "video/ogg", "audio/x-ogg":
		return ContainerOgg
	case "audio/webm", "video/webm", "audio/x-matroska", "video/x-matroska":
		return ContainerWebM
	case "audio/mp4", "video/mp4", "audio/x-m4a", "audio/m4a", "video/quicktime", "audio/x-mp4":
		return ContainerMP4
	}
	return ContainerUnknown
}

// Extension is the conventional file suffix for the container.
func (c Container) Extension() string {
	switch c {
	case ContainerWAV:
		return ".wav"
	case ContainerOgg:
		return ".ogg"
	case ContainerWebM:
		return ".webm"
	case ContainerMP4:
		return ".m4a"
	}
	return ".bin"
}

// MeasureDuration returns the recording length in seconds using the
// requested method.
func MeasureDuration(data []byte, container Container, method DurationMethod) (float64, error) {
	decode := method == MethodDecodeProbe

	switch container {
	case ContainerWAV:
		if decode {
			return wavDecodedDuration(data)
		}
		return wavDeclaredDuration(data)
	case ContainerOgg:
		if decode {
			return oggDecodedDuration(data)
		}
		return oggDeclaredDuration(data)
	case ContainerWebM:
		if decode {
			return webmDecodedDuration(data)
		}
		return webmDeclaredDuration(data)
	case ContainerMP4:
		if decode {
			return mp4DecodedDuration(data)
		}
		return mp4DeclaredDuration(data)
	}
	return 0, fmt.Errorf("%w: unsupported container %q", ErrDurationUnavailable, container)
}
