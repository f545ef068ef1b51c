// Copyright 2020 gorse Project Authors
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

package parallel

import (
	"context"
	"sync"

	"github.com/gorse-io/retail/base"
	"github.com/juju/errors"
)

const chanSize = 1024

/* Parallel Schedulers */

// Parallel schedules and runs tasks in parallel. nJobs is the number of tasks. nWorkers is
// the number of executors. worker is the executed function which passed a worker id and a
// job id. The ctx argument allows callers to cancel outstanding work. The first failed job
// cancels the rest, and a panic in a job is returned as an error.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := runJob(worker, 0, i); err != nil {
				return errors.Trace(err)
			}
		}
	} else {
		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		c := make(chan int, chanSize)
		// producer
		go func() {
			defer close(c)
			for i := 0; i < nJobs; i++ {
				select {
				case <-jobCtx.Done():
					return
				case c <- i:
				}
			}
		}()
		// consumer
		var (
			wg       sync.WaitGroup
			failOnce sync.Once
			firstErr error
		)
		for j := 0; j < nWorkers; j++ {
			// start workers
			workerId := j
			wg.Go(func() {
				for {
					select {
					case <-jobCtx.Done():
						return
					case jobId, ok := <-c:
						if !ok {
							return
						}
						if jobCtx.Err() != nil {
							return
						}
						// run job
						if err := runJob(worker, workerId, jobId); err != nil {
							failOnce.Do(func() {
								firstErr = err
								cancel()
							})
							return
						}
					}
				}
			})
		}
		wg.Wait()
		// check errors
		if firstErr != nil {
			return errors.Trace(firstErr)
		}
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// runJob runs a job and converts its panic into an error.
func runJob(worker func(workerId, jobId int) error, workerId, jobId int) (err error) {
	defer base.CheckPanic(&err)
	return worker(workerId, jobId)
}
