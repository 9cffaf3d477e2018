// Package attachments removes memory attachment objects from object storage.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Purger deletes the objects behind attachment URLs. Implementations keep
// going past individual failures and report them together.
type Purger interface {
	Purge(ctx context.Context, urls []string) error
}

// Nop is used when no object storage is configured.
type Nop struct{}

// Purge does nothing.
func (Nop) Purge(context.Context, []string) error { return nil }

// S3Config selects the bucket and credentials. An empty Bucket disables purging.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type deleteObjectAPI interface {
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 deletes attachment objects stored in a single bucket.
type S3 struct {
	client deleteObjectAPI
	bucket string
	log    *zap.Logger
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3 builds a purger for cfg. A custom endpoint (MinIO and similar) switches
// the client to path-style addressing.
func NewS3(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: empty bucket")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3WithClient(client, cfg.Bucket, log), nil
}

func newS3WithClient(client deleteObjectAPI, bucket string, log *zap.Logger) *S3 {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3{client: client, bucket: bucket, log: log}
}

// Purge deletes every URL that points into the bucket. Foreign URLs are skipped.
func (p *S3) Purge(ctx context.Context, urls []string) error {
	var errList []error
	for _, raw := range urls {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errList, err)...)
		}
		key, ok := p.objectKey(raw)
		if !ok {
			p.log.Debug("skip foreign attachment", zap.String("url", raw))
			continue
		}
		_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			errList = append(errList, fmt.Errorf("delete %q: %w", key, err))
		}
	}
	return errors.Join(errList...)
}

// objectKey maps s3://bucket/key, path-style http(s)://host/bucket/key and
// virtual-hosted http(s)://bucket.host/key URLs to the object key.
func (p *S3) objectKey(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")
	switch u.Scheme {
	case "s3":
		if u.Host != p.bucket || path == "" {
			return "", false
		}
		return path, true
	case "http", "https":
		if strings.HasPrefix(u.Host, p.bucket+".") && path != "" {
			return path, true
		}
		if rest, ok := strings.CutPrefix(path, p.bucket+"/"); ok && rest != "" {
			return rest, true
		}
	}
	return "", false
}
