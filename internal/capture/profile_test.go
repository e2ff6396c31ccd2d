package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	uaIPhoneSafari  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	uaIPhoneChrome  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/123.0.6312.52 Mobile/15E148 Safari/604.1"
	uaDesktopChrome = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	uaEdge          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.51"
	uaAndroidChrome = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"
	uaAndroidWeb    = "Mozilla/5.0 (Linux; Android 14; Pixel 8; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/124.0.0.0 Mobile Safari/537.36"
	uaMacSafari     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	uaFirefox       = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"
)

func TestDetectPlatforms(t *testing.T) {
	cases := []struct {
		ua       string
		platform string
		method   DurationMethod
	}{
		{uaIPhoneSafari, "ios-safari", MethodDecodeProbe},
		{uaIPhoneChrome, "ios-chrome", MethodDecodeProbe},
		{uaDesktopChrome, "chrome", MethodMetadata},
		{uaEdge, "edge", MethodMetadata},
		{uaAndroidChrome, "android-chrome", MethodMetadata},
		{uaAndroidWeb, "android-webview", MethodMetadata},
		{uaMacSafari, "desktop-safari", MethodDecodeProbe},
		{uaFirefox, "firefox", MethodMetadata},
		{"curl/8.4.0", PlatformUnknown, MethodMetadata},
	}

	for _, tc := range cases {
		t.Run(tc.platform, func(t *testing.T) {
			profile := Detect(StaticRuntime{Agent: tc.ua}, DefaultProfileRules())
			require.Equal(t, tc.platform, profile.PlatformName)
			require.Equal(t, tc.method, profile.DurationValidationMethod)
			require.Equal(t, int64(defaultMinFileSize), profile.MinAcceptableFileSize)
		})
	}
}

func TestDetectPicksFirstSupportedEncoding(t *testing.T) {
	rt := StaticRuntime{Agent: uaIPhoneSafari, Supported: []string{"audio/mp4", "audio/wav"}}
	profile := Detect(rt, DefaultProfileRules())

	require.Equal(t, []string{"audio/mp4", "audio/wav"}, profile.PreferredEncodings)
	require.Equal(t, "audio/mp4", profile.Encoding)
}

func TestDetectFallsBackToEncoderDefault(t *testing.T) {
	profile := Detect(StaticRuntime{Agent: uaFirefox}, DefaultProfileRules())

	require.Empty(t, profile.PreferredEncodings)
	require.Empty(t, profile.Encoding)
}

func TestDetectHonoursRuleOverrides(t *testing.T) {
	rules := DefaultProfileRules()
	rules.DecodeProbePlatforms = []string{"firefox"}
	rules.MinFileSize = 4096
	rules.Platforms = append([]PlatformRule{{Name: "school-kiosk", All: []string{"Kiosk/"}, MinFileSize: 2048}}, rules.Platforms...)

	firefox := Detect(StaticRuntime{Agent: uaFirefox}, rules)
	require.Equal(t, MethodDecodeProbe, firefox.DurationValidationMethod)
	require.Equal(t, int64(4096), firefox.MinAcceptableFileSize)

	safari := Detect(StaticRuntime{Agent: uaIPhoneSafari}, rules)
	require.Equal(t, MethodMetadata, safari.DurationValidationMethod)

	kiosk := Detect(StaticRuntime{Agent: uaDesktopChrome + " Kiosk/1.0"}, rules)
	require.Equal(t, "school-kiosk", kiosk.PlatformName)
	require.Equal(t, int64(2048), kiosk.MinAcceptableFileSize)
}

func TestDetectIsDeterministic(t *testing.T) {
	rt := StaticRuntime{Agent: uaAndroidChrome, Supported: []string{"audio/webm;codecs=opus", "audio/ogg;codecs=opus"}}
	rules := DefaultProfileRules()
	require.Equal(t, Detect(rt, rules), Detect(rt, rules))
}
