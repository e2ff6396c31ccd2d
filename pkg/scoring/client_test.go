package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-lab/internal/assessment"
)

func TestScoreParsesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, assessPath, r.URL.Path)
		var body assessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "https://cdn.example/rec.webm", body.RecordingURL)
		require.Equal(t, "good morning", body.ReferenceText)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pronunciationScore":86.5,"accuracyScore":90,"fluencyScore":80,"completenessScore":100,
			"words":[{"word":"good","accuracyScore":95},{"word":"morning","accuracyScore":70,"errorType":"Mispronunciation"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	result, err := client.Score(context.Background(), assessment.Request{
		RecordingURL:  "https://cdn.example/rec.webm",
		ProgressID:    "p-1",
		ReferenceText: "good morning",
	})
	require.NoError(t, err)
	require.InDelta(t, 86.5, result.PronunciationScore, 0.001)
	require.Len(t, result.Words, 2)
	require.Equal(t, "Mispronunciation", result.Words[1].ErrorType)
}

func TestScoreReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}).Score(context.Background(), assessment.Request{RecordingURL: "x"})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
}
