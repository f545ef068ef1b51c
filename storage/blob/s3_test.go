// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/gorse-io/retail/config"
	"github.com/juju/errors"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestS3(t *testing.T) {
	endpoint := os.Getenv("S3_ENDPOINT")
	accessKeyID := os.Getenv("S3_ACCESS_KEY_ID")
	secretAccessKey := os.Getenv("S3_SECRET_ACCESS_KEY")
	if endpoint == "" || accessKeyID == "" || secretAccessKey == "" {
		t.Skip("S3 environment variables are not set, skipping S3 tests")
	}
	ctx := context.Background()

	client, err := NewS3(config.S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Bucket:          "retail-test",
		Prefix:          "blob",
	})
	assert.NoError(t, err)

	// create bucket if not exists
	exists, err := client.Client.BucketExists(ctx, client.bucket)
	assert.NoError(t, err)
	if !exists {
		assert.NoError(t, client.Client.MakeBucket(ctx, client.bucket, minio.MakeBucketOptions{}))
	}

	err = Write(ctx, client, "test", func(w io.Writer) error {
		_, err := w.Write([]byte("hello world"))
		return err
	})
	assert.NoError(t, err)

	r, err := client.Open(ctx, "test")
	assert.NoError(t, err)
	content, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
	assert.NoError(t, r.Close())

	names, err := client.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, names, "test")

	assert.NoError(t, client.Remove(ctx, "test"))
	_, err = client.Open(ctx, "test")
	assert.True(t, errors.Is(err, errors.NotFound))
}
