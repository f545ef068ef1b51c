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

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/config"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Store keeps named artifacts.
type Store interface {
	// Open an artifact for reading. Missing artifacts are reported as errors.NotFound.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create an artifact for writing. The upload completes after the writer is closed and
	// its result is delivered on the returned channel.
	Create(ctx context.Context, name string) (io.WriteCloser, <-chan error, error)
	// List names of artifacts.
	List(ctx context.Context) ([]string, error)
	// Remove an artifact.
	Remove(ctx context.Context, name string) error
}

// NewStore creates the store selected by the configuration.
func NewStore(cfg config.BlobConfig) (Store, error) {
	switch cfg.Type {
	case "", "posix":
		return NewPOSIX(cfg.Dir), nil
	case "s3":
		return NewS3(cfg.S3)
	case "gcs":
		return NewGCS(cfg.GCS)
	case "azure":
		return NewAzureBlob(cfg.Azure)
	default:
		return nil, errors.NotSupportedf("blob store %q", cfg.Type)
	}
}

// newBackOff returns the retry policy of uploads.
var newBackOff = func() backoff.BackOff {
	return backoff.NewExponentialBackOff()
}

const maxTries = 3

// Write creates an artifact, streams content into it and waits for the upload. Failed
// uploads are retried, errors returned by write are not. A failed write cancels the upload.
func Write(ctx context.Context, store Store, name string, write func(w io.Writer) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := writeOnce(ctx, store, name, write)
		if err != nil {
			log.Logger().Warn("failed to upload artifact", zap.String("name", name), zap.Error(err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(maxTries))
	return errors.Trace(err)
}

func writeOnce(ctx context.Context, store Store, name string, write func(w io.Writer) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, done, err := store.Create(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if err = write(w); err != nil {
		cancel()
		if pw, ok := w.(*io.PipeWriter); ok {
			_ = pw.CloseWithError(err)
		} else {
			_ = w.Close()
		}
		<-done
		return backoff.Permanent(errors.Trace(err))
	}
	if err = w.Close(); err != nil {
		<-done
		return errors.Trace(err)
	}
	return errors.Trace(<-done)
}

// Read opens an artifact and passes it to read.
func Read(ctx context.Context, store Store, name string, read func(r io.Reader) error) error {
	r, err := store.Open(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	return errors.Trace(read(r))
}

// upload runs fn in the background and delivers its result on the returned channel.
func upload(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
		close(done)
	}()
	return done
}
