// Package storage builds the file systems evidence files are written to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3fs "github.com/looplj/afero-s3"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// S3 holds bucket settings for the s3 backend.
type S3 struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	Root    string
	S3      S3
}

// ErrUnsupportedBackend is returned for unknown backend names.
var ErrUnsupportedBackend = errors.New("unsupported storage backend")

// Store writes evidence blobs to an afero.Fs.
type Store struct {
	fs      afero.Fs
	backend string
}

// NewStore wraps fs. Directories are only created for non object-store
// backends.
func NewStore(fs afero.Fs, backend string) *Store {
	return &Store{fs: fs, backend: backend}
}

// NewMemory returns an in-memory store.
func NewMemory() *Store {
	return NewStore(afero.NewMemMapFs(), BackendMemory)
}

// New builds the Store for opts.Backend.
func New(ctx context.Context, opts Options) (*Store, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case "", BackendLocal:
		root := opts.Root
		if root == "" {
			root = "./data/uploads"
		}
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage root: %w", err)
		}
		return NewStore(afero.NewBasePathFs(afero.NewOsFs(), root), BackendLocal), nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendS3:
		fs, err := newS3Fs(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		return NewStore(fs, BackendS3), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, opts.Backend)
	}
}

// Backend names the backend the store writes to.
func (s *Store) Backend() string {
	return s.backend
}

// Fs exposes the underlying file system.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

func newS3Fs(ctx context.Context, cfg S3) (afero.Fs, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			awscredentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = lo.ToPtr(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return s3fs.NewFsFromClient(cfg.Bucket, client), nil
}

// Write stores data under key.
func (s *Store) Write(key string, data []byte) error {
	if s.backend != BackendS3 {
		if dir := path.Dir(key); dir != "." && dir != "/" {
			if err := s.fs.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create directory: %w, key: %s", err, key)
			}
		}
	}
	if err := afero.WriteFile(s.fs, key, data, 0o640); err != nil {
		return fmt.Errorf("failed to write file: %w, key: %s", err, key)
	}
	return nil
}

// Read loads the blob stored under key.
func (s *Store) Read(key string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w, key: %s", err, key)
	}
	return data, nil
}

// Remove deletes key. A missing file is not an error.
func (s *Store) Remove(key string) error {
	if err := s.fs.Remove(key); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to remove file: %w, key: %s", err, key)
	}
	return nil
}
