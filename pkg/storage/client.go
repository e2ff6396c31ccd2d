// Package storage is the HTTP client for the recording storage service.
package storage

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noah-isme/gema-speaking-lab/internal/upload"
)

const uploadPath = "/api/practice/recordings"

// Config controls the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type uploadResponse struct {
	RemoteURL  string `json:"remoteUrl"`
	ProgressID string `json:"progressId"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Client posts recordings as multipart forms.
type Client struct {
	http *resty.Client
}

var _ upload.Storage = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}
	return &Client{http: httpClient}
}

// Store uploads one recording. Failures are returned as *upload.StorageError
// so the coordinator can classify them.
func (c *Client) Store(ctx context.Context, req upload.StorageRequest) (upload.StorageResult, error) {
	var (
		out     uploadResponse
		failure errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"assignmentId": strconv.FormatUint(uint64(req.AssignmentID), 10),
			"activityId":   strconv.FormatUint(uint64(req.ActivityID), 10),
			"itemId":       strconv.FormatUint(uint64(req.ItemID), 10),
			"studentId":    strconv.FormatUint(uint64(req.StudentID), 10),
		}).
		SetMultipartField("audioBlob", req.FileName, req.MimeType, bytes.NewReader(req.Data)).
		SetResult(&out).
		SetError(&failure).
		Post(uploadPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return upload.StorageResult{}, ctxErr
		}
		return upload.StorageResult{}, &upload.StorageError{Err: err}
	}
	if resp.IsError() {
		return upload.StorageResult{}, &upload.StorageError{
			StatusCode: resp.StatusCode(),
			Message:    firstNonEmpty(failure.Message, failure.Error, resp.Status()),
		}
	}
	if out.RemoteURL == "" {
		return upload.StorageResult{}, &upload.StorageError{
			StatusCode: resp.StatusCode(),
			Message:    "response did not include a remote url",
			Err:        errMissingURL,
		}
	}
	return upload.StorageResult{RemoteURL: out.RemoteURL, ProgressID: out.ProgressID}, nil
}

var errMissingURL = errors.New("missing remote url")

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
