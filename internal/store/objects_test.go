package store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func fixedObjectStore(client S3API, prefix, baseURL string) *ObjectStore {
	o := NewObjectStore(client, "reports", prefix, baseURL)
	o.now = func() time.Time { return time.Date(2024, time.March, 9, 23, 30, 0, 0, time.UTC) }
	return o
}

func TestUploadFile(t *testing.T) {
	t.Parallel()

	client := &mockS3{}
	content := []byte{0x1f, 0x8b, 0x08, 0x00}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, err := io.ReadAll(in.Body)
		return err == nil &&
			aws.ToString(in.Bucket) == "reports" &&
			aws.ToString(in.Key) == "dmarc-reports/2024/3/google.com!example.com!1!2.xml.gz" &&
			aws.ToString(in.ContentType) == "application/gzip" &&
			string(body) == string(content)
	})).Return(&s3.PutObjectOutput{}, nil)

	u, err := fixedObjectStore(client, "/dmarc-reports/", "https://files.example.com/").UploadFile(context.Background(), "google.com!example.com!1!2.xml.gz", content)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/dmarc-reports/2024/3/google.com%21example.com%211%212.xml.gz", u)
	client.AssertExpectations(t)
}

func TestUploadFileS3URL(t *testing.T) {
	t.Parallel()

	client := &mockS3{}
	client.On("PutObject", mock.Anything, mock.Anything).Return(&s3.PutObjectOutput{}, nil)

	u, err := fixedObjectStore(client, "", "").UploadFile(context.Background(), "../../etc/report.xml", []byte("<feedback/>"))
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/2024/3/report.xml", u)
}

func TestUploadFileError(t *testing.T) {
	t.Parallel()

	client := &mockS3{}
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	_, err := fixedObjectStore(client, "x", "").UploadFile(context.Background(), "", nil)
	require.ErrorContains(t, err, "could not upload x/2024/3/report")
}

func TestBackendWithoutFiles(t *testing.T) {
	t.Parallel()

	_, err := NewBackend(NewPostgres(&mockDB{}), nil).UploadFile(context.Background(), "a.xml", nil)
	require.ErrorIs(t, err, ErrNoFileStore)
}
