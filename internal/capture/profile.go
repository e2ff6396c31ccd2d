package capture

import (
	"strings"
)

// DurationMethod selects how a recording's length is measured.
type DurationMethod string

const (
	// MethodMetadata trusts the duration the container declares.
	MethodMetadata DurationMethod = "metadata"
	// MethodDecodeProbe counts the audio that is actually present.
	MethodDecodeProbe DurationMethod = "decode-probe"
)

// Runtime describes the recording client: its user agent and which
// encodings its encoder accepts.
type Runtime interface {
	UserAgent() string
	IsTypeSupported(mimeType string) bool
}

// PlatformProfile is the capability snapshot taken once per workspace.
// Nothing downstream inspects the user agent again.
type PlatformProfile struct {
	PlatformName string `json:"platform_name"`
	// PreferredEncodings lists the supported candidates in preference order.
	PreferredEncodings []string `json:"preferred_encodings"`
	// Encoding is the one the encoder is configured with. Empty means the
	// encoder picks its own default.
	Encoding                 string         `json:"encoding"`
	MinAcceptableFileSize    int64          `json:"min_acceptable_file_size"`
	DurationValidationMethod DurationMethod `json:"duration_validation_method"`
}

// PlatformRule maps user agent tokens to a platform name. A rule matches
// when every All token and at least one Any token is present and no None
// token is.
type PlatformRule struct {
	Name        string
	All         []string
	Any         []string
	None        []string
	MinFileSize int64
}

func (r PlatformRule) matches(ua string) bool {
	for _, token := range r.All {
		if !strings.Contains(ua, token) {
			return false
		}
	}
	for _, token := range r.None {
		if strings.Contains(ua, token) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return true
	}
	for _, token := range r.Any {
		if strings.Contains(ua, token) {
			return true
		}
	}
	return false
}

// ProfileRules is the configurable input to Detect.
type ProfileRules struct {
	Platforms []PlatformRule
	// Encodings is the candidate list, most preferred first.
	Encodings []string
	// DecodeProbePlatforms lists platform names whose container metadata
	// cannot be trusted.
	DecodeProbePlatforms []string
	// MinFileSize applies when a platform rule does not set its own.
	MinFileSize int64
}

const (
	PlatformUnknown = "unknown"

	defaultMinFileSize = 1024
)

// DefaultProfileRules returns the built-in platform table.
func DefaultProfileRules() ProfileRules {
	return ProfileRules{
		Platforms: []PlatformRule{
			{Name: "ios-chrome", All: []string{"CriOS"}},
			{Name: "ios-firefox", All: []string{"FxiOS"}},
			{Name: "ios-safari", Any: []string{"iPhone", "iPad", "iPod"}},
			{Name: "android-webview", All: []string{"Android", "; wv)"}},
			{Name: "samsung-internet", All: []string{"SamsungBrowser"}},
			{Name: "android-chrome", All: []string{"Android", "Chrome/"}},
			{Name: "edge", All: []string{"Edg/"}},
			{Name: "firefox", All: []string{"Firefox/"}},
			{Name: "chrome", All: []string{"Chrome/"}},
			{Name: "desktop-safari", All: []string{"Safari/", "Macintosh"}},
		},
		Encodings: []string{
			"audio/webm;codecs=opus",
			"audio/webm",
			"audio/ogg;codecs=opus",
			"audio/mp4",
			"audio/wav",
		},
		DecodeProbePlatforms: []string{"ios-safari", "ios-chrome", "ios-firefox", "desktop-safari"},
		MinFileSize:          defaultMinFileSize,
	}
}

// Detect builds the platform profile. It has no side effects.
func Detect(rt Runtime, rules ProfileRules) PlatformProfile {
	ua := rt.UserAgent()

	profile := PlatformProfile{
		PlatformName:             PlatformUnknown,
		MinAcceptableFileSize:    rules.MinFileSize,
		DurationValidationMethod: MethodMetadata,
	}
	if profile.MinAcceptableFileSize <= 0 {
		profile.MinAcceptableFileSize = defaultMinFileSize
	}

	for _, rule := range rules.Platforms {
		if rule.matches(ua) {
			profile.PlatformName = rule.Name
			if rule.MinFileSize > 0 {
				profile.MinAcceptableFileSize = rule.MinFileSize
			}
			break
		}
	}

	for _, name := range rules.DecodeProbePlatforms {
		if name == profile.PlatformName {
			profile.DurationValidationMethod = MethodDecodeProbe
			break
		}
	}

	profile.PreferredEncodings = make([]string, 0, len(rules.Encodings))
	for _, encoding := range rules.Encodings {
		if rt.IsTypeSupported(encoding) {
			profile.PreferredEncodings = append(profile.PreferredEncodings, encoding)
		}
	}
	if len(profile.PreferredEncodings) > 0 {
		profile.Encoding = profile.PreferredEncodings[0]
	}

	return profile
}

// StaticRuntime is a Runtime with a fixed answer, used for file uploads
// and tests.
type StaticRuntime struct {
	Agent     string
	Supported []string
}

func (s StaticRuntime) UserAgent() string { return s.Agent }

func (s StaticRuntime) IsTypeSupported(mimeType string) bool {
	for _, candidate := range s.Supported {
		if strings.EqualFold(candidate, mimeType) {
			return true
		}
	}
	return false
}
