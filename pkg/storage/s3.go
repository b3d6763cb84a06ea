package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/haivivi/wreq/go/pkg/body"
)

// S3Client abstracts the S3 API operations used for transfers.
// The [s3.Client] type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes an S3 or S3-compatible endpoint.
type S3Config struct {
	Region       string
	Endpoint     string // empty for AWS
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an s3.Client from static settings.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
				Source:          "wreq config",
			}, nil
		})
	}
	return s3.New(opts)
}

func openS3(ctx context.Context, client S3Client, bucket, key string) (io.ReadCloser, int64, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, fmt.Errorf("storage: read s3://%s/%s: %w", bucket, key, os.ErrNotExist)
		}
		return nil, 0, err
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// s3Writer streams written bytes through a body channel into a background
// PutObject call.
type s3Writer struct {
	ctx       context.Context
	tx        *body.Sender
	done      chan struct{}
	uploadErr error
}

func createS3(ctx context.Context, client S3Client, bucket, key string) *s3Writer {
	tx, rx := body.NewChannel(body.DefaultCapacity)
	w := &s3Writer{ctx: ctx, tx: tx, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		// Closing the receiver unblocks pending writes if the upload
		// fails early.
		defer rx.Close()
		src, err := rx.Stream(ctx)
		if err != nil {
			w.uploadErr = err
			return
		}
		_, w.uploadErr = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   src,
		})
	}()
	return w
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if err := w.tx.PushContext(w.ctx, p); err != nil {
		if errors.Is(err, body.ErrChannelClosed) {
			<-w.done
			if w.uploadErr != nil {
				return 0, w.uploadErr
			}
		}
		return 0, err
	}
	return len(p), nil
}

// Close ends the object, waits for the upload and returns its error.
func (w *s3Writer) Close() error {
	w.tx.Close()
	<-w.done
	return w.uploadErr
}

// Abort cancels the upload; the partial object is not stored.
func (w *s3Writer) Abort(reason string) error {
	w.tx.Abort(reason)
	<-w.done
	return w.uploadErr
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
