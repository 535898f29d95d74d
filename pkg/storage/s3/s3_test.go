package s3

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/feichai0017/seed-processor/pkg/logger"
)

type fakeS3 struct {
	objects map[string]types.Object
	bodies  map[string]string
	deleted []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	key := aws.ToString(in.Key)
	f.bodies[key] = string(data)
	f.objects[key] = types.Object{Key: in.Key, LastModified: aws.Time(time.Now())}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.bodies[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	delete(f.bodies, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var out []types.Object
	for k, o := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out = append(out, o)
		}
	}
	return &s3.ListObjectsV2Output{Contents: out, IsTruncated: aws.Bool(false)}, nil
}

func TestS3StoreGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string]types.Object{}, bodies: map[string]string{}}
	s := newS3Storage(fake, "bucket", logger.NewTestLogger())

	key, err := s.Store(ctx, "seeds/u/1/a.pdf", strings.NewReader("pdf"), 3, "application/pdf")
	if err != nil || key != "seeds/u/1/a.pdf" {
		t.Fatalf("Store = %q, %v", key, err)
	}
	rc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "pdf" {
		t.Fatalf("body = %q", data)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); err == nil {
		t.Fatal("Get after delete should fail")
	}
}

func TestS3CleanupBefore(t *testing.T) {
	ctx := context.Background()
	old := time.Now().Add(-72 * time.Hour)
	fake := &fakeS3{
		objects: map[string]types.Object{
			"seeds/old": {Key: aws.String("seeds/old"), LastModified: aws.Time(old)},
			"seeds/new": {Key: aws.String("seeds/new"), LastModified: aws.Time(time.Now())},
			"keep/old":  {Key: aws.String("keep/old"), LastModified: aws.Time(old)},
		},
		bodies: map[string]string{},
	}
	s := newS3Storage(fake, "bucket", logger.NewTestLogger())

	n, err := s.CleanupBefore(ctx, "seeds/", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CleanupBefore: %v", err)
	}
	if n != 1 || len(fake.deleted) != 1 || fake.deleted[0] != "seeds/old" {
		t.Fatalf("deleted %d: %v", n, fake.deleted)
	}
}
