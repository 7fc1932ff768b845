// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Blobstore stores blobs in an S3-compatible bucket under a key prefix.
type S3Blobstore struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Blobstore = (*S3Blobstore)(nil)

// NewS3Blobstore creates an S3Blobstore over an existing client.
func NewS3Blobstore(client *s3.Client, bucket, prefix string) *S3Blobstore {
	return &S3Blobstore{client: client, bucket: bucket, prefix: normalizePrefix(prefix)}
}

// NewS3BlobstoreFromEnv creates an S3Blobstore using the ambient AWS
// configuration (env vars, shared config, instance role).
func NewS3BlobstoreFromEnv(ctx context.Context, bucket, prefix string) (*S3Blobstore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewS3Blobstore(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// Path returns the bucket and prefix.
func (bs *S3Blobstore) Path() string {
	return bs.bucket + "/" + bs.prefix
}

// Exists returns true if an object exists for the given key.
func (bs *S3Blobstore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := bs.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(bs.prefix + key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get retrieves an io.ReadCloser for the portion of an object specified by
// br, issuing a single ranged GET. A negative offset is sent as a suffix
// range, so br's length is not applied to it.
func (bs *S3Blobstore) Get(ctx context.Context, key string, br BlobRange) (io.ReadCloser, string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(bs.prefix + key),
	}
	if !br.isAllRange() {
		input.Range = aws.String(httpRange(br))
	}

	out, err := bs.client.GetObject(ctx, input)
	if err != nil {
		if isS3NotFound(err) {
			return nil, "", NotFound{Key: key}
		}
		return nil, "", err
	}
	return out.Body, aws.ToString(out.ETag), nil
}

// Put uploads an object.
func (bs *S3Blobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) (string, error) {
	out, err := bs.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bs.bucket),
		Key:           aws.String(bs.prefix + key),
		Body:          reader,
		ContentLength: aws.Int64(totalSize),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

// CheckAndPut uploads conditionally on the object's current ETag.
func (bs *S3Blobstore) CheckAndPut(ctx context.Context, expectedVersion, key string, totalSize int64, reader io.Reader) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bs.bucket),
		Key:           aws.String(bs.prefix + key),
		Body:          reader,
		ContentLength: aws.Int64(totalSize),
	}
	if expectedVersion == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(expectedVersion)
	}

	out, err := bs.client.PutObject(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return "", CheckAndPutError{Key: key, ExpectedVersion: expectedVersion}
		}
		var respErr interface{ HTTPStatusCode() int }
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusPreconditionFailed {
			return "", CheckAndPutError{Key: key, ExpectedVersion: expectedVersion}
		}
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

// Delete removes an object. S3 deletes are idempotent already.
func (bs *S3Blobstore) Delete(ctx context.Context, key string) error {
	_, err := bs.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(bs.prefix + key),
	})
	return err
}

// List pages through ListObjectsV2 returning all keys with the given prefix.
func (bs *S3Blobstore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(bs.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bs.bucket),
		Prefix: aws.String(bs.prefix + prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), bs.prefix))
		}
	}
	return keys, nil
}

func httpRange(br BlobRange) string {
	if br.offset < 0 {
		return fmt.Sprintf("bytes=%d", br.offset)
	}
	if br.length == 0 {
		return fmt.Sprintf("bytes=%d-", br.offset)
	}
	return fmt.Sprintf("bytes=%d-%d", br.offset, br.offset+br.length-1)
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
