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

package candidates

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/base/progress"
	"github.com/gorse-io/retail/common/parallel"
	"github.com/gorse-io/retail/config"
	"github.com/gorse-io/retail/recommend"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/gorse-io/retail/candidates")

// CandidateList is the fixed-width shortlist of a user.
type CandidateList struct {
	UserId int64
	Items  []int64
}

// Generator produces one candidate list per user of a population.
type Generator struct {
	recommender recommend.Recommender
	n           int
	jobs        int
}

// NewGenerator creates a generator of lists of width cfg.NumCandidates.
func NewGenerator(recommender recommend.Recommender, cfg config.CandidatesConfig) (*Generator, error) {
	if cfg.NumCandidates <= 0 {
		return nil, errors.NotValidf("number of candidates %d", cfg.NumCandidates)
	}
	return &Generator{
		recommender: recommender,
		n:           cfg.NumCandidates,
		jobs:        max(cfg.Jobs, 1),
	}, nil
}

// Population returns the union of cohorts. Users keep the order of first appearance.
func Population(cohorts ...[]int64) []int64 {
	return lo.Uniq(lo.Flatten(cohorts))
}

// Generate returns a candidate list for every user in the union of cohorts. Users known to
// the recommender get own-items recommendations, new users get the head of the popularity
// ranking. Lists are ordered as the population.
func (g *Generator) Generate(ctx context.Context, cohorts ...[]int64) ([]CandidateList, error) {
	ctx, span := tracer.Start(ctx, "Generator.Generate")
	defer span.End()
	start := time.Now()
	population := Population(cohorts...)
	span.SetAttributes(attribute.Int("n_users", len(population)), attribute.Int("n_candidates", g.n))

	// partition before querying, queries register new users
	known := mapset.NewThreadUnsafeSet[int64]()
	for _, userId := range population {
		if g.recommender.IsKnownUser(userId) {
			known.Add(userId)
		}
	}
	var popular []int64
	if known.Cardinality() < len(population) {
		var err error
		if popular, err = g.recommender.GetPopularItems(g.n); err != nil {
			span.RecordError(err)
			return nil, errors.Trace(err)
		}
	}

	var nKnown, nNew atomic.Int64
	lists := make([]CandidateList, len(population))
	_, progressSpan := progress.Start(ctx, "Generator.Generate", len(population))
	err := parallel.Parallel(ctx, len(population), g.jobs, func(_, jobId int) error {
		userId := population[jobId]
		lists[jobId].UserId = userId
		if known.Contains(userId) {
			items, err := g.recommender.GetOwnRecommendations(userId, g.n)
			if err != nil {
				return errors.Annotatef(err, "candidates of user %d", userId)
			}
			if len(items) != g.n {
				return errors.Errorf("%d candidates of user %d, expected %d", len(items), userId, g.n)
			}
			lists[jobId].Items = items
			nKnown.Inc()
		} else {
			lists[jobId].Items = append([]int64(nil), popular...)
			nNew.Inc()
		}
		progressSpan.Add(1)
		return nil
	})
	if err != nil {
		progressSpan.Fail(err)
		span.RecordError(err)
		return nil, errors.Trace(err)
	}
	progressSpan.End()
	CandidateLists.WithLabelValues("known").Add(float64(nKnown.Load()))
	CandidateLists.WithLabelValues("new").Add(float64(nNew.Load()))
	GenerateSeconds.Observe(time.Since(start).Seconds())
	log.Logger().Info("generate candidates complete",
		zap.Int("n_users", len(population)),
		zap.Int64("n_known_users", nKnown.Load()),
		zap.Int64("n_new_users", nNew.Load()),
		zap.Int("n_candidates", g.n),
		zap.Duration("duration", time.Since(start)))
	return lists, nil
}
