package wasmstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store persists WASM blobs keyed by content hash.
type Store interface {
	Put(ctx context.Context, key string, code []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// FSStore keeps blobs on the local filesystem, for single-node deployments.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wasmstore: creating %s: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(key string) (string, error) {
	// Keys are content hashes; reject anything that could escape the dir.
	if key == "" || strings.ContainsAny(key, "/\\.") {
		return "", fmt.Errorf("wasmstore: invalid key %q", key)
	}
	return filepath.Join(s.dir, key+".wasm"), nil
}

func (s *FSStore) Put(_ context.Context, key string, code []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return os.WriteFile(p, code, 0o644)
}

func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	code, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("wasmstore: reading %s: %w", key, err)
	}
	return code, nil
}

// S3Store keeps blobs in an S3 bucket for multi-node deployments.
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasmstore: loading AWS config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, code []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String("wasm/" + key + ".wasm"),
		Body:        bytes.NewReader(code),
		ContentType: aws.String("application/wasm"),
	})
	if err != nil {
		return fmt.Errorf("wasmstore: putting %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String("wasm/" + key + ".wasm"),
	})
	if err != nil {
		return nil, fmt.Errorf("wasmstore: getting %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	code, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("wasmstore: reading %s: %w", key, err)
	}
	return code, nil
}
