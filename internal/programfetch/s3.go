// Package programfetch implements the kernel's Program Fetch collaborator
// (spec.md §1): resolving a domain.ProgramRef's content hash to the
// sandbox binary bytes it names. The core never reaches into object
// storage directly; internal/scheduler depends only on the Fetcher
// interface this package's S3Fetcher satisfies.
package programfetch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"

	"github.com/ipwis/kernel/internal/domain"
)

// objectGetter is the narrow slice of *s3.Client's method set S3Fetcher
// depends on, so tests can substitute a fake without standing up a real
// S3-compatible endpoint.
type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher resolves a ProgramRef's content hash to an object key in an
// S3-compatible bucket and retries transient failures with exponential
// backoff, replacing the teacher's hand-rolled fixed-step retry loop
// with the backoff library the AWS SDK already pulls in transitively.
type S3Fetcher struct {
	client     objectGetter
	bucket     string
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option configures an S3Fetcher at construction time.
type Option func(*S3Fetcher)

// WithRetry overrides the default retry budget.
func WithRetry(maxRetries int, minBackoff, maxBackoff time.Duration) Option {
	return func(f *S3Fetcher) {
		f.maxRetries = maxRetries
		f.minBackoff = minBackoff
		f.maxBackoff = maxBackoff
	}
}

// NewS3Fetcher builds an S3Fetcher against bucket, loading AWS
// credentials and region from the standard SDK default chain and
// optionally pointing at an S3-compatible endpoint (minio, R2) when
// endpoint is non-empty.
func NewS3Fetcher(ctx context.Context, bucket, region, endpoint string, opts ...Option) (*S3Fetcher, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	f := &S3Fetcher{
		client:     client,
		bucket:     bucket,
		maxRetries: 3,
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// NewS3FetcherWithCredentials builds an S3Fetcher with explicit static
// credentials, for deployments that don't run inside the AWS default
// credential chain (on-prem minio, local dev).
func NewS3FetcherWithCredentials(ctx context.Context, bucket, region, endpoint, accessKeyID, secretAccessKey string, opts ...Option) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	f := &S3Fetcher{
		client:     client,
		bucket:     bucket,
		maxRetries: 3,
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch downloads the object keyed by ref.ContentHash, making at most
// f.maxRetries attempts in total with exponential backoff between them,
// bounded by f.minBackoff and f.maxBackoff. A
// ProgramRef with an empty ContentHash is rejected without a round trip.
func (f *S3Fetcher) Fetch(ctx context.Context, ref domain.ProgramRef) ([]byte, error) {
	if ref.ContentHash == "" {
		return nil, fmt.Errorf("program ref names no content hash")
	}

	op := func() ([]byte, error) {
		out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(ref.ContentHash),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()

		body, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("read program object body: %w", err)
		}
		return body, nil
	}

	bo := backoff.NewExponentialBackOff()
	if f.minBackoff > 0 {
		bo.InitialInterval = f.minBackoff
	}
	if f.maxBackoff > 0 {
		bo.MaxInterval = f.maxBackoff
	}
	b, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(f.maxRetries)),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch program %q from bucket %q: %w", ref.ContentHash, f.bucket, err)
	}
	return b, nil
}
