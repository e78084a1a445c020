package store

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
)

// S3API is the subset of the s3 client used by ObjectStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectStore uploads report attachments to an S3 compatible bucket.
type ObjectStore struct {
	client  S3API
	bucket  string
	prefix  string
	baseURL string
	now     func() time.Time
}

// NewS3Client creates an s3 client for the given endpoint. An empty endpoint
// uses the AWS default for the region.
func NewS3Client(endpoint, region, accessKey, secretKey string, pathStyle bool) *s3.Client {
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		UsePathStyle: pathStyle,
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return s3.New(opts)
}

// NewObjectStore creates an ObjectStore. baseURL is prepended to the object
// key to build the returned file url, if it is empty an s3:// url is
// returned.
func NewObjectStore(client S3API, bucket, prefix, baseURL string) *ObjectStore {
	return &ObjectStore{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

func (o *ObjectStore) objectKey(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "report"
	}
	date := o.now().UTC()
	key := fmt.Sprintf("%d/%d/%s", date.Year(), int(date.Month()), name)
	if o.prefix != "" {
		key = o.prefix + "/" + key
	}
	return key
}

// UploadFile stores the content below <prefix>/<year>/<month>/<filename> and
// returns the url of the object.
func (o *ObjectStore) UploadFile(ctx context.Context, name string, content []byte) (string, error) {
	key := o.objectKey(name)
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(o.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String(mimetype.Detect(content).String()),
	})
	if err != nil {
		return "", fmt.Errorf("could not upload %s: %w", key, err)
	}

	if o.baseURL == "" {
		return fmt.Sprintf("s3://%s/%s", o.bucket, key), nil
	}
	u, err := url.JoinPath(o.baseURL, strings.Split(key, "/")...)
	if err != nil {
		return "", fmt.Errorf("could not build url for %s: %w", key, err)
	}
	return u, nil
}
