package cloudinary

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-lab/internal/upload"
)

type stubUploader struct {
	params uploader.UploadParams
	body   []byte
	result *uploader.UploadResult
	err    error
}

func (s *stubUploader) Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error) {
	s.params = params
	if reader, ok := file.(io.Reader); ok {
		s.body, _ = io.ReadAll(reader)
	}
	return s.result, s.err
}

func request() upload.StorageRequest {
	return upload.StorageRequest{AssignmentID: 3, ItemID: 9, StudentID: 42, FileName: "a3-act1-item9-1-abc.webm", Data: []byte("blob")}
}

func TestStoreUploadsAsVideoAsset(t *testing.T) {
	stub := &stubUploader{result: &uploader.UploadResult{AssetID: "asset-1", PublicID: "a3", SecureURL: "https://res.cloudinary.com/x.webm"}}
	service := newService(stub, "/practice/", zerolog.Nop())

	result, err := service.Store(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, "https://res.cloudinary.com/x.webm", result.RemoteURL)
	require.Equal(t, "asset-1", result.ProgressID)
	require.Equal(t, "video", stub.params.ResourceType)
	require.Equal(t, "practice/assignment-3/student-42", stub.params.Folder)
	require.Equal(t, "a3-act1-item9-1-abc", stub.params.PublicID)
	require.Equal(t, []byte("blob"), stub.body)
}

func TestStoreClassifiesFailures(t *testing.T) {
	transport := newService(&stubUploader{err: errors.New("connection reset")}, "", zerolog.Nop())
	_, err := transport.Store(context.Background(), request())
	require.True(t, upload.Retryable(err))

	rejected := newService(&stubUploader{result: &uploader.UploadResult{Error: api.ErrorResp{Message: "Invalid file"}}}, "", zerolog.Nop())
	_, err = rejected.Store(context.Background(), request())
	require.False(t, upload.Retryable(err))
	require.ErrorContains(t, err, "Invalid file")
}

func TestBuildPublicID(t *testing.T) {
	require.Equal(t, "my-take-1", buildPublicID("my take#1.ogg"))
	require.Contains(t, buildPublicID("###.wav"), "recording-")
}
