package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// S3Config configures an S3Manager.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// S3Manager keeps file content as objects in an S3 compatible bucket.
// Backups go under the backups/ prefix.
type S3Manager struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	now    func() time.Time

	initOnce sync.Once
	initErr  error
}

// NewS3Manager creates a manager for cfg. The bucket is created on first use.
func NewS3Manager(cfg S3Config) (*S3Manager, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: s3 endpoint is required", tmerrors.ErrValidation)
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("%w: s3 access key and secret key are required", tmerrors.ErrValidation)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", tmerrors.ErrValidation)
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Manager{
		client: client,
		bucket: bucket,
		region: region,
		prefix: normalizePrefix(cfg.Prefix),
		now:    time.Now,
	}, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (m *S3Manager) ensureBucket(ctx context.Context) error {
	m.initOnce.Do(func() {
		exists, err := m.client.BucketExists(ctx, m.bucket)
		if err != nil {
			m.initErr = err
			return
		}
		if exists {
			return
		}
		m.initErr = m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region})
	})
	if m.initErr != nil {
		return fmt.Errorf("ensure bucket: %w", m.initErr)
	}
	return nil
}

func (m *S3Manager) key(file occurrence.ResourceID) (string, error) {
	name, err := objectName(file)
	if err != nil {
		return "", err
	}
	return m.prefix + name, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (m *S3Manager) LoadContent(ctx context.Context, file occurrence.ResourceID) (string, error) {
	key, err := m.key(file)
	if err != nil {
		return "", err
	}
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("reading content of %s: %w", file, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return "", fmt.Errorf("content of %s: %w", file, tmerrors.ErrNotFound)
		}
		return "", fmt.Errorf("reading content of %s: %w", file, err)
	}
	return string(data), nil
}

func (m *S3Manager) Exists(ctx context.Context, file occurrence.ResourceID) (bool, error) {
	key, err := m.key(file)
	if err != nil {
		return false, err
	}
	if err := m.ensureBucket(ctx); err != nil {
		return false, err
	}
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking content of %s: %w", file, err)
	}
	return true, nil
}

func (m *S3Manager) SaveContent(ctx context.Context, file occurrence.ResourceID, content io.Reader) error {
	key, err := m.key(file)
	if err != nil {
		return err
	}
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("saving content of %s: %w", file, err)
	}
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/html; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("saving content of %s: %w", file, err)
	}
	return nil
}

// CreateBackup copies the object server-side.
func (m *S3Manager) CreateBackup(ctx context.Context, file occurrence.ResourceID) (string, error) {
	name, err := objectName(file)
	if err != nil {
		return "", err
	}
	key := m.prefix + name
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}
	backup, err := m.freeBackupKey(ctx, name)
	if err != nil {
		return "", fmt.Errorf("backing up %s: %w", file, err)
	}
	_, err = m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: backup},
		minio.CopySrcOptions{Bucket: m.bucket, Object: key},
	)
	if err != nil {
		if isNoSuchKey(err) {
			return "", fmt.Errorf("content of %s: %w", file, tmerrors.ErrNotFound)
		}
		return "", fmt.Errorf("backing up %s: %w", file, err)
	}
	return backup, nil
}

// freeBackupKey returns the first backup key for name that has no object yet.
// CopyObject overwrites, so same-millisecond backups get a counter suffix.
func (m *S3Manager) freeBackupKey(ctx context.Context, name string) (string, error) {
	at := m.now()
	for n := 0; n < maxBackupAttempts; n++ {
		key := m.prefix + "backups/" + backupName(name, at, n)
		_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
		if isNoSuchKey(err) {
			return key, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %d backups named %s", tmerrors.ErrConflict, maxBackupAttempts, backupName(name, at, 0))
}

// Remove deletes the object. S3 deletes are idempotent, so existence is
// checked first to report ErrNotFound like the other managers.
func (m *S3Manager) Remove(ctx context.Context, file occurrence.ResourceID) error {
	ok, err := m.Exists(ctx, file)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("content of %s: %w", file, tmerrors.ErrNotFound)
	}
	key, _ := m.key(file)
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing content of %s: %w", file, err)
	}
	return nil
}
