// Package scoring is the HTTP client for the pronunciation assessment service.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noah-isme/gema-speaking-lab/internal/assessment"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

const assessPath = "/api/pronunciation/assess"

// ErrUnexpectedStatus wraps non-2xx responses from the scorer.
var ErrUnexpectedStatus = errors.New("scoring service returned an error")

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type assessRequest struct {
	RecordingURL  string `json:"recordingUrl"`
	ProgressID    string `json:"progressId,omitempty"`
	ReferenceText string `json:"referenceText"`
}

type wordScore struct {
	Word          string  `json:"word"`
	AccuracyScore float64 `json:"accuracyScore"`
	ErrorType     string  `json:"errorType"`
}

type assessResponse struct {
	PronunciationScore float64     `json:"pronunciationScore"`
	AccuracyScore      float64     `json:"accuracyScore"`
	FluencyScore       float64     `json:"fluencyScore"`
	CompletenessScore  float64     `json:"completenessScore"`
	Words              []wordScore `json:"words"`
}

// Client calls the scorer with a JSON body.
type Client struct {
	http *resty.Client
}

var _ assessment.Scorer = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}
	return &Client{http: httpClient}
}

func (c *Client) Score(ctx context.Context, req assessment.Request) (progress.AssessmentResult, error) {
	var out assessResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(assessRequest{
			RecordingURL:  req.RecordingURL,
			ProgressID:    req.ProgressID,
			ReferenceText: req.ReferenceText,
		}).
		SetResult(&out).
		Post(assessPath)
	if err != nil {
		return progress.AssessmentResult{}, fmt.Errorf("call scorer: %w", err)
	}
	if resp.IsError() {
		return progress.AssessmentResult{}, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode())
	}

	result := progress.AssessmentResult{
		PronunciationScore: out.PronunciationScore,
		AccuracyScore:      out.AccuracyScore,
		FluencyScore:       out.FluencyScore,
		CompletenessScore:  out.CompletenessScore,
	}
	for _, w := range out.Words {
		result.Words = append(result.Words, progress.WordScore{Word: w.Word, AccuracyScore: w.AccuracyScore, ErrorType: w.ErrorType})
	}
	return result, nil
}
