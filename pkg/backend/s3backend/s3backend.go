// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package s3backend implements the checkpoint backend contract
// (pkg/backend.Backend) against an S3-compatible object store, for
// operators who externalize the store root instead of using the local
// filesystem.
package s3backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/agentmesh/checkpointd/pkg/backend"
)

// Config configures the object-store snapshot backend.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// Backend is the S3-compatible snapshot backend. Object keys are laid out
// as <prefix>/<entity_id>/<snapshot_filename>, mirroring the local file
// backend's directory layout one-to-one.
type Backend struct {
	cfg    Config
	client *s3.Client
}

// New constructs an S3 backend and eagerly resolves AWS credentials and
// client options, matching the construction-time failure posture of the
// local file backend's root canonicalization.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3backend: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Backend{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

func (b *Backend) key(entityID, name string) string {
	prefix := strings.TrimSuffix(b.cfg.Prefix, "/")
	if prefix == "" {
		return entityID + "/" + name
	}
	return prefix + "/" + entityID + "/" + name
}

func (b *Backend) entityKeyPrefix(entityID string) string {
	prefix := strings.TrimSuffix(b.cfg.Prefix, "/")
	if prefix == "" {
		return entityID + "/"
	}
	return prefix + "/" + entityID + "/"
}

// Checkpoint implements backend.Backend. Object stores have no
// rename-based atomicity primitive; PutObject itself is the durability
// point, matching the "considered committed once observable" cancellation
// semantics the core already tolerates.
func (b *Backend) Checkpoint(ctx context.Context, entityID string, envelopeBytes []byte) (string, error) {
	if err := backend.ValidateEntityID(entityID); err != nil {
		return "", err
	}

	name := backend.SnapshotFileName(nowMillis())
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(entityID, name)),
		Body:   bytes.NewReader(envelopeBytes),
	})
	if err != nil {
		return "", &backend.ErrOperation{Op: "checkpoint", Reason: err.Error()}
	}
	return name, nil
}

// LoadLatest implements backend.Backend.
func (b *Backend) LoadLatest(ctx context.Context, entityID string) ([]byte, error) {
	if err := backend.ValidateEntityID(entityID); err != nil {
		return nil, err
	}

	prefix := b.entityKeyPrefix(entityID)
	var names []string
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &backend.ErrOperation{Op: "load_latest", Reason: err.Error()}
		}
		for _, obj := range out.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	var snapshotNames []string
	for _, n := range names {
		if _, err := backend.ParseSnapshotTimestamp(n); err == nil {
			snapshotNames = append(snapshotNames, n)
		}
	}
	if len(snapshotNames) == 0 {
		return nil, &backend.ErrSnapshotNotFound{EntityID: entityID}
	}
	sort.Strings(snapshotNames)
	latest := snapshotNames[len(snapshotNames)-1]

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(prefix + latest),
	})
	if err != nil {
		return nil, &backend.ErrOperation{Op: "load_latest", Reason: err.Error()}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &backend.ErrOperation{Op: "load_latest", Reason: err.Error()}
	}
	return data, nil
}

// DeleteEntity implements backend.Backend.
func (b *Backend) DeleteEntity(ctx context.Context, entityID string) error {
	if err := backend.ValidateEntityID(entityID); err != nil {
		return err
	}

	prefix := b.entityKeyPrefix(entityID)
	var token *string
	var toDelete []types.ObjectIdentifier
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return &backend.ErrOperation{Op: "delete_entity", Reason: err.Error()}
		}
		for _, obj := range out.Contents {
			toDelete = append(toDelete, types.ObjectIdentifier{Key: obj.Key})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	if len(toDelete) == 0 {
		return nil
	}

	_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.cfg.Bucket),
		Delete: &types.Delete{Objects: toDelete},
	})
	if err != nil {
		return &backend.ErrOperation{Op: "delete_entity", Reason: err.Error()}
	}
	return nil
}
