package delivery

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	err     error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Deliverer(t *testing.T) {
	putter := &fakePutter{objects: map[string]string{}, types: map[string]string{}}
	s := newS3Deliverer(putter, "digests", "daily")

	if err := s.Deliver(context.Background(), NewDigest(testResult(), testNow)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	jsonKey := "digests/daily/digest-2026-03-02-3f2a9c10.json"
	mdKey := "digests/daily/digest-2026-03-02-3f2a9c10.md"
	if _, ok := putter.objects[jsonKey]; !ok {
		t.Errorf("missing %s, have %v", jsonKey, putter.objects)
	}
	if putter.types[jsonKey] != "application/json" {
		t.Errorf("unexpected content type %q", putter.types[jsonKey])
	}
	if _, ok := putter.objects[mdKey]; !ok {
		t.Errorf("missing %s", mdKey)
	}
}

func TestS3Deliverer_Error(t *testing.T) {
	denied := errors.New("access denied")
	s := newS3Deliverer(&fakePutter{err: denied}, "digests", "")

	err := s.Deliver(context.Background(), NewDigest(testResult(), testNow))
	if !errors.Is(err, denied) {
		t.Errorf("expected upload error, got %v", err)
	}
}
