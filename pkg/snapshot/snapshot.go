// Package snapshot archives raw fetched pages for after-the-fact debugging
// of extraction misses and block events. Pages land in a local directory and
// optionally in an R2 bucket.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	appconfig "leadharvest_backend/pkg/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

type Archiver struct {
	cfg appconfig.SnapshotConfig
}

func New(cfg appconfig.SnapshotConfig) *Archiver {
	return &Archiver{cfg: cfg}
}

func getS3Client() (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			os.Getenv("R2_ACCESS_KEY"),
			os.Getenv("R2_SECRET_KEY"),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", os.Getenv("R2_ACCOUNT_ID")))
		o.UsePathStyle = true
		o.Region = "auto"
	})

	return client, nil
}

// Save archives one page. Failures are logged, never propagated: a broken
// archive must not fail the scrape that produced the page.
func (a *Archiver) Save(queryKey, backend string, content []byte) {
	if !a.cfg.Enabled || len(content) == 0 {
		return
	}

	name := fmt.Sprintf("%s-%s-%d.html", slug.Make(queryKey), slug.Make(backend), time.Now().UnixNano())

	if err := os.MkdirAll(a.cfg.Dir, 0o755); err != nil {
		log.Printf("Could not create snapshot dir: %v", err)
		return
	}
	path := filepath.Join(a.cfg.Dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		log.Printf("Could not write snapshot %s: %v", path, err)
		return
	}

	if a.cfg.R2 {
		a.uploadR2(name, content)
	}
}

func (a *Archiver) uploadR2(name string, content []byte) {
	client, err := getS3Client()
	if err != nil {
		log.Printf("Could not create R2 client: %v", err)
		return
	}

	objectKey := filepath.Join("snapshots", name)
	_, err = client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(os.Getenv("R2_BUCKET_NAME")),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		log.Printf("Could not upload snapshot to R2: %v", err)
	}
}
