package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

type mockS3Client struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)
	m.objects[aws.ToString(params.Bucket)+"/"+key] = data
	m.types[key] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3_PutAndGet(t *testing.T) {
	client := newMockS3Client()
	a := NewS3(client, "mail-archive", "raw/")
	ctx := context.Background()

	if err := a.Put(ctx, "mail-1", []byte("Subject: hi\r\n\r\nbody")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := client.objects["mail-archive/raw/mail-1.eml"]; !ok {
		t.Fatalf("expected object under prefix, got %v", client.objects)
	}
	if client.types["raw/mail-1.eml"] != "message/rfc822" {
		t.Errorf("unexpected content type %q", client.types["raw/mail-1.eml"])
	}

	got, err := a.Get(ctx, "mail-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "Subject: hi\r\n\r\nbody" {
		t.Errorf("unexpected body %q", got)
	}

	if _, err := a.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestS3_PutError(t *testing.T) {
	client := newMockS3Client()
	client.putErr = errors.New("access denied")

	err := NewS3(client, "b", "").Put(context.Background(), "mail-1", []byte("x"))
	if err == nil || !errors.Is(err, client.putErr) {
		t.Errorf("expected wrapped put error, got %v", err)
	}
}

func TestLocal_PutAndGet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	a, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()

	if err := a.Put(ctx, "mail-1", []byte("first")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := a.Put(ctx, "mail-1", []byte("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := a.Get(ctx, "mail-1")
	if err != nil || string(got) != "second" {
		t.Fatalf("expected overwritten content, got %q, %v", got, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "mail-1.eml" {
		t.Errorf("expected only mail-1.eml, got %v", entries)
	}
}

func TestLocal_InvalidAndMissingIDs(t *testing.T) {
	a, _ := NewLocal(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", "../etc/passwd", "a/b"} {
		if err := a.Put(ctx, id, []byte("x")); err == nil {
			t.Errorf("expected put error for id %q", id)
		}
		if _, err := a.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for id %q, got %v", id, err)
		}
	}
	if _, err := a.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	a, err := New(ctx, Config{}, log)
	if err != nil || a != nil {
		t.Errorf("expected disabled archive, got %v, %v", a, err)
	}

	a, err = New(ctx, Config{Type: "local", Path: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, ok := a.(*Local); !ok {
		t.Errorf("expected *Local, got %T", a)
	}

	if _, err := New(ctx, Config{Type: "s3"}, log); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := New(ctx, Config{Type: "tape"}, log); err == nil {
		t.Error("expected error for unknown type")
	}
}
