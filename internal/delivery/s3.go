package delivery

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Deliverer uploads both renderings to a bucket
type S3Deliverer struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3Deliverer loads the default AWS credential chain for region
func NewS3Deliverer(ctx context.Context, bucket, prefix, region string) (*S3Deliverer, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3Deliverer(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func newS3Deliverer(client putObjectAPI, bucket, prefix string) *S3Deliverer {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Deliverer{client: client, bucket: bucket, prefix: prefix}
}

// Name returns the sink name
func (s *S3Deliverer) Name() string {
	return "s3"
}

// Deliver puts <prefix>digest-<date>-<run>.json and .md
func (s *S3Deliverer) Deliver(ctx context.Context, d *Digest) error {
	data, err := RenderJSON(d)
	if err != nil {
		return err
	}
	key := s.prefix + digestName(d)
	if err := s.put(ctx, key+".json", "application/json", data); err != nil {
		return err
	}
	return s.put(ctx, key+".md", "text/markdown; charset=utf-8", []byte(RenderMarkdown(d)))
}

func (s *S3Deliverer) put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
