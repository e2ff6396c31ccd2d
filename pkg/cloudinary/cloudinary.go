package cloudinary

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-lab/internal/upload"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type assetUploader interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// Service stores recordings as Cloudinary video assets, which is where
// Cloudinary keeps audio.
type Service struct {
	assets assetUploader
	folder string
	logger zerolog.Logger
}

var _ upload.Storage = (*Service)(nil)

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}
	return newService(&cld.Upload, cfg.Folder, logger), nil
}

func newService(assets assetUploader, folder string, logger zerolog.Logger) *Service {
	return &Service{
		assets: assets,
		folder: strings.Trim(folder, "/"),
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}
}

// Store uploads one recording. SDK transport errors come back retryable,
// errors reported by the API are final.
func (s *Service) Store(ctx context.Context, req upload.StorageRequest) (upload.StorageResult, error) {
	params := uploader.UploadParams{
		Folder:       path.Join(s.folder, fmt.Sprintf("assignment-%d", req.AssignmentID), fmt.Sprintf("student-%d", req.StudentID)),
		PublicID:     buildPublicID(req.FileName),
		ResourceType: "video",
	}

	result, err := s.assets.Upload(ctx, bytes.NewReader(req.Data), params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return upload.StorageResult{}, ctxErr
		}
		return upload.StorageResult{}, &upload.StorageError{Err: err}
	}
	if result == nil {
		return upload.StorageResult{}, &upload.StorageError{Message: "empty upload result"}
	}
	if result.Error.Message != "" {
		return upload.StorageResult{}, &upload.StorageError{StatusCode: http.StatusBadRequest, Message: result.Error.Message}
	}

	progressID := result.AssetID
	if progressID == "" {
		progressID = uuid.NewString()
	}
	s.logger.Info().
		Str("public_id", result.PublicID).
		Uint("assignment_id", req.AssignmentID).
		Uint("item_id", req.ItemID).
		Msg("recording uploaded to cloudinary")

	return upload.StorageResult{RemoteURL: result.SecureURL, ProgressID: progressID}, nil
}

func buildPublicID(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		return "recording-" + uuid.NewString()
	}
	return base
}
