// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package checkpoint mirrors a Sink's durable local position to an S3
// object on a schedule, purely for disaster-recovery visibility. It is
// never consulted for resumption — that always comes from the local
// journal — so a failed or stale checkpoint upload cannot corrupt the
// replication stream.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PositionProvider reports the Sink's current durable position. It is
// called once per upload, never more often than the configured schedule.
type PositionProvider func() (lastWrittenIndex int64, journalSize int64)

// Marker is the JSON document written to the checkpoint object.
type Marker struct {
	LastWrittenIndex int64     `json:"last_written_index"`
	JournalSize      int64     `json:"journal_size"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// Uploader periodically publishes a Marker to S3.
type Uploader struct {
	bucket   string
	key      string
	position PositionProvider
	logger   *slog.Logger

	uploader *manager.Uploader
}

// New builds an Uploader using the default AWS credential chain, scoped to
// region. Region, bucket and key come from the Sink's checkpoint
// configuration.
func New(ctx context.Context, region, bucket, key string, position PositionProvider, logger *slog.Logger) (*Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Uploader{
		bucket:   bucket,
		key:      key,
		position: position,
		logger:   logger.With("component", "checkpoint_uploader"),
		uploader: manager.NewUploader(client),
	}, nil
}

// Upload serializes the current position and writes it to S3. Errors are
// returned to the caller (the cron job logs and swallows them — a failed
// checkpoint is never fatal to replication).
func (u *Uploader) Upload(ctx context.Context) error {
	lastWritten, size := u.position()
	marker := Marker{
		LastWrittenIndex: lastWritten,
		JournalSize:      size,
		UploadedAt:       time.Now().UTC(),
	}

	body, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint marker: %w", err)
	}

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(u.key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading checkpoint to s3://%s/%s: %w", u.bucket, u.key, err)
	}

	u.logger.Info("checkpoint uploaded",
		"bucket", u.bucket,
		"key", u.key,
		"last_written_index", lastWritten,
		"journal_size", size,
	)
	return nil
}
