package corpus

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// Archive stores outgoing snapshots before a swap replaces them. Archives
// are write-only from the service's point of view; retrieval is an
// operational task.
type Archive interface {
	Save(ctx context.Context, snap *domain.Snapshot) error
}

// LocalArchive keeps gzipped snapshot copies in a directory.
type LocalArchive struct {
	dir string
}

func NewLocalArchive(dir string) *LocalArchive {
	return &LocalArchive{dir: dir}
}

func (a *LocalArchive) Save(ctx context.Context, snap *domain.Snapshot) error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	data, err := marshalGzipped(snap)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("snapshot-%s.json.gz", snap.GeneratedAt.UTC().Format("20060102-150405"))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing archive file: %w", err)
	}
	return nil
}

// S3Archive stores gzipped snapshots under date-partitioned keys, e.g.
// <prefix>snapshots/2026/03/01/12-00-00.json.gz.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive builds an archive on the default AWS credential chain. Bucket
// access problems are logged, not fatal; the first Save will surface them.
func NewS3Archive(ctx context.Context, bucket, prefix, region string) (*S3Archive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		log.Printf("[CorpusArchive] warning: bucket access check failed for %s: %v", bucket, err)
	}

	return &S3Archive{client: client, bucket: bucket, prefix: prefix}, nil
}

func (a *S3Archive) Save(ctx context.Context, snap *domain.Snapshot) error {
	data, err := marshalGzipped(snap)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%ssnapshots/%s.json.gz", a.prefix, snap.GeneratedAt.UTC().Format("2006/01/02/15-04-05"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot archive: %w", err)
	}

	log.Printf("[CorpusArchive] archived snapshot to s3://%s/%s (%d bytes)", a.bucket, key, len(data))
	return nil
}

// List returns the archived snapshot keys, oldest first by key order.
func (a *S3Archive) List(ctx context.Context) ([]string, error) {
	prefix := a.prefix + "snapshots/"

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}

func marshalGzipped(snap *domain.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
