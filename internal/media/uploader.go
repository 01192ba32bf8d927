// Package media stores product images in S3-compatible object storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// MaxImageSize is the largest accepted upload.
const MaxImageSize = 5 << 20

var (
	// ErrUnsupportedType is returned for anything but JPEG, PNG and WebP.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooLarge is returned when an upload exceeds MaxImageSize.
	ErrTooLarge = errors.New("image too large")
	// ErrEmpty is returned for empty uploads.
	ErrEmpty = errors.New("image is empty")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the uploader.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO, LocalStack
	// PublicBaseURL is prepended to object keys, e.g. a CDN origin.
	PublicBaseURL string
	Prefix        string
}

// S3Uploader uploads product images.
type S3Uploader struct {
	client  putObjectAPI
	bucket  string
	prefix  string
	baseURL string
	newID   func() string
}

// NewS3Uploader creates an uploader from the default AWS credential chain.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := cfg.PublicBaseURL
	switch {
	case baseURL != "":
	case cfg.Endpoint != "":
		baseURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return newUploader(client, cfg.Bucket, cfg.Prefix, baseURL), nil
}

func newUploader(client putObjectAPI, bucket, prefix, baseURL string) *S3Uploader {
	if prefix == "" {
		prefix = "products"
	}
	return &S3Uploader{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   func() string { return uuid.NewString() },
	}
}

// Upload validates and stores an image of productID and returns its public
// URL. The declared content type must agree with the sniffed one.
func (u *S3Uploader) Upload(ctx context.Context, productID, filename, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxImageSize+1))
	if err != nil {
		return "", errors.Wrap(err, "read image")
	}
	ext, err := Check(data, contentType)
	if err != nil {
		return "", errors.Wrapf(err, "image %q", filename)
	}

	key := path.Join(u.prefix, productID, u.newID()+ext)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(sniff(data)),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", errors.Wrap(err, "s3 put")
	}
	return u.baseURL + "/" + key, nil
}

// Check validates an image and returns the file extension to store it under.
func Check(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxImageSize {
		return "", ErrTooLarge
	}
	actual := sniff(data)
	ext, ok := extensions[actual]
	if !ok {
		return "", errors.Wrap(ErrUnsupportedType, actual)
	}
	if declared != "" && !strings.EqualFold(mediaType(declared), actual) {
		return "", errors.Wrapf(ErrUnsupportedType, "declared %s, got %s", declared, actual)
	}
	return ext, nil
}

func sniff(data []byte) string {
	return mediaType(http.DetectContentType(data))
}

func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}
