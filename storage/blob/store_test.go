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
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/retail/config"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewStore(t *testing.T) {
	store, err := NewStore(config.BlobConfig{Type: "posix", Dir: t.TempDir()})
	assert.NoError(t, err)
	assert.IsType(t, &POSIX{}, store)

	store, err = NewStore(config.BlobConfig{Type: "s3", S3: config.S3Config{Endpoint: "localhost:9000", Bucket: "retail"}})
	assert.NoError(t, err)
	assert.IsType(t, &S3{}, store)

	_, err = NewStore(config.BlobConfig{Type: "ftp"})
	assert.True(t, errors.Is(err, errors.NotSupported))
}

// flakyStore fails the first uploads.
type flakyStore struct {
	*POSIX
	failures int
	creates  int
}

func (s *flakyStore) Create(ctx context.Context, name string) (io.WriteCloser, <-chan error, error) {
	s.creates++
	if s.creates <= s.failures {
		return nil, nil, errors.New("connection reset")
	}
	return s.POSIX.Create(ctx, name)
}

func TestWriteRetry(t *testing.T) {
	newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	t.Cleanup(func() { newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() } })
	ctx := context.Background()

	store := &flakyStore{POSIX: NewPOSIX(t.TempDir()), failures: 2}
	err := Write(ctx, store, "artifact", func(w io.Writer) error {
		_, err := w.Write([]byte("recommender"))
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, store.creates)

	store = &flakyStore{POSIX: NewPOSIX(t.TempDir()), failures: maxTries}
	err = Write(ctx, store, "artifact", func(w io.Writer) error { return nil })
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, maxTries, store.creates)

	// errors of the writer are not retried
	store = &flakyStore{POSIX: NewPOSIX(t.TempDir())}
	err = Write(ctx, store, "artifact", func(w io.Writer) error { return errors.New("marshal failed") })
	assert.ErrorContains(t, err, "marshal failed")
	assert.Equal(t, 1, store.creates)
}
