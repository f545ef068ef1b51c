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

package recommend

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/config"
	"github.com/gorse-io/retail/dataset"
	"github.com/gorse-io/retail/model/cf"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/gorse-io/retail/recommend")

// Recommender answers recommendation queries with raw identifiers. Every successful
// query returns exactly n distinct items.
type Recommender interface {
	// GetRecommendations ranks items for a user by the latent factor model.
	GetRecommendations(userId int64, n int) ([]int64, error)
	// GetOwnRecommendations ranks the items a user already bought by the neighbor model.
	GetOwnRecommendations(userId int64, n int) ([]int64, error)
	// GetSimilarItems returns items similar to an item, the item itself excluded.
	GetSimilarItems(itemId int64, n int) ([]int64, error)
	// GetPopularItems returns the head of the popularity ranking.
	GetPopularItems(n int) ([]int64, error)
	// IsKnownUser returns true if the user has a column in the fitted matrix.
	IsKnownUser(userId int64) bool
}

// MainRecommender combines a latent factor model and an own-items neighbor model fitted
// on the same BM25 weighted matrix, with popularity as fallback. Fit must not run
// concurrently with queries. Queries are safe for concurrent use.
type MainRecommender struct {
	cfg          *config.Config
	index        *dataset.Index
	matrix       *dataset.InteractionMatrix
	als          *cf.ALS
	ownItems     *cf.ItemKNN
	popularity   []int64
	topPurchases map[int64][]int64
}

// NewMainRecommender creates a recommender without fitted models. Until Fit is called
// every query falls back to an empty popularity ranking.
func NewMainRecommender(cfg *config.Config) *MainRecommender {
	r := &MainRecommender{
		cfg:          cfg,
		index:        dataset.NewIndex(),
		matrix:       dataset.NewInteractionMatrix(0, 0, nil, nil),
		als:          cf.NewALS(cfg.ALS.GetParams()),
		ownItems:     cf.NewItemKNN(cfg.OwnItems.GetParams()),
		topPurchases: make(map[int64][]int64),
	}
	r.als.Init(r.matrix)
	r.ownItems.Neighbors = [][]int32{}
	r.ownItems.Similarities = [][]float32{}
	return r
}

// Fit builds the index, the weighted matrix, the popularity ranking and both models from
// transactions. The previous state is discarded.
func (r *MainRecommender) Fit(ctx context.Context, transactions []dataset.Transaction) error {
	ctx, span := tracer.Start(ctx, "MainRecommender.Fit",
		trace.WithAttributes(attribute.Int("n_transactions", len(transactions))))
	defer span.End()
	start := time.Now()

	builder, err := dataset.NewMatrixBuilder(r.cfg.Matrix.BM25K1, r.cfg.Matrix.BM25B)
	if err != nil {
		span.RecordError(err)
		return errors.Trace(err)
	}
	index := dataset.NewIndex()
	matrix := builder.Build(index, transactions)
	popularity := dataset.PopularityRanking(transactions, r.cfg.Matrix.SentinelItemId)
	topPurchases := dataset.TopPurchases(transactions, r.cfg.Matrix.SentinelItemId)

	als := cf.NewALS(r.cfg.ALS.GetParams())
	if err = als.Fit(ctx, index, matrix, cf.NewFitConfig().SetJobs(r.cfg.ALS.Jobs)); err != nil {
		return errors.Trace(err)
	}
	ownItems := cf.NewItemKNN(r.cfg.OwnItems.GetParams())
	if err = ownItems.Fit(ctx, index, matrix, cf.NewFitConfig().SetJobs(r.cfg.OwnItems.Jobs)); err != nil {
		return errors.Trace(err)
	}

	r.index = index
	r.matrix = matrix
	r.als = als
	r.ownItems = ownItems
	r.popularity = popularity
	r.topPurchases = topPurchases
	nItems, nUsers := matrix.Shape()
	FitSeconds.Observe(time.Since(start).Seconds())
	log.Logger().Info("fit recommender complete",
		zap.Int("n_items", nItems),
		zap.Int("n_users", nUsers),
		zap.Int("n_popular_items", len(popularity)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Shape returns the number of items and users of the fitted matrix.
func (r *MainRecommender) Shape() (int, int) {
	return r.matrix.Shape()
}

// IsKnownUser returns true if the user has a column in the fitted matrix. Users
// registered by queries after fitting are not known.
func (r *MainRecommender) IsKnownUser(userId int64) bool {
	userIndex, err := r.index.ToIndex(userId, dataset.UserSpace)
	return err == nil && int(userIndex) < r.matrix.CountUsers()
}

// GetPopularItems returns the first n items of the popularity ranking.
func (r *MainRecommender) GetPopularItems(n int) ([]int64, error) {
	if err := base.ValidateN(n); err != nil {
		return nil, errors.Trace(err)
	}
	if len(r.popularity) < n {
		ColdStartQueries.Inc()
		return nil, errors.Trace(base.ColdStartf("%d popular items requested but %d available", n, len(r.popularity)))
	}
	return append([]int64(nil), r.popularity[:n]...), nil
}

// GetRecommendations ranks items for a user by the latent factor model and fills the
// rest from the popularity ranking. Unknown users are registered and get popular items.
func (r *MainRecommender) GetRecommendations(userId int64, n int) ([]int64, error) {
	start := time.Now()
	defer func() { QuerySeconds.WithLabelValues("recommend").Observe(time.Since(start).Seconds()) }()
	if err := base.ValidateN(n); err != nil {
		return nil, errors.Trace(err)
	}
	userIndex := r.index.Register(userId, dataset.UserSpace)
	var exclude []int32
	if r.cfg.Recommend.FilterLikedItems {
		exclude, _ = r.matrix.UserColumn(userIndex)
	}
	items, _, err := r.als.Recommend(userIndex, n, exclude)
	if err != nil && !errors.Is(err, base.ErrColdStart) {
		return nil, errors.Trace(err)
	}
	return r.fill(userId, "recommend", items, n, nil)
}

// GetOwnRecommendations ranks the items a user already bought by the neighbor model and
// fills the rest from the popularity ranking. Unknown users are registered and get
// popular items.
func (r *MainRecommender) GetOwnRecommendations(userId int64, n int) ([]int64, error) {
	start := time.Now()
	defer func() { QuerySeconds.WithLabelValues("own").Observe(time.Since(start).Seconds()) }()
	if err := base.ValidateN(n); err != nil {
		return nil, errors.Trace(err)
	}
	userIndex := r.index.Register(userId, dataset.UserSpace)
	items, values := r.matrix.UserColumn(userIndex)
	recommends, _, err := r.ownItems.Recommend(items, values, n)
	if err != nil && !errors.Is(err, base.ErrColdStart) {
		return nil, errors.Trace(err)
	}
	return r.fill(userId, "own", recommends, n, nil)
}

// GetSimilarItems returns the n items most similar to an item by latent factors. The item
// itself is never returned. Unknown items are rejected.
func (r *MainRecommender) GetSimilarItems(itemId int64, n int) ([]int64, error) {
	start := time.Now()
	defer func() { QuerySeconds.WithLabelValues("similar_items").Observe(time.Since(start).Seconds()) }()
	if err := base.ValidateN(n); err != nil {
		return nil, errors.Trace(err)
	}
	itemIndex, err := r.index.ToIndex(itemId, dataset.ItemSpace)
	if err != nil {
		return nil, errors.NotValidf("unknown item %d", itemId)
	}
	similar, err := r.similarItems(itemIndex, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return r.fill(itemId, "similar_items", similar, n, []int64{itemId})
}

// similarItems returns at most n items similar to an item, excluding the item itself.
func (r *MainRecommender) similarItems(itemIndex int32, n int) ([]int32, error) {
	items, _, err := r.als.SimilarItems(itemIndex, n+1)
	if errors.Is(err, base.ErrColdStart) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	similar := make([]int32, 0, n)
	for _, item := range items {
		// drop by identity, ties may reorder
		if item != itemIndex && len(similar) < n {
			similar = append(similar, item)
		}
	}
	return similar, nil
}

// GetSimilarItemsRecommendations recommends, for each of the n items a user bought most,
// the most similar other item, then fills the rest from the popularity ranking.
func (r *MainRecommender) GetSimilarItemsRecommendations(userId int64, n int) ([]int64, error) {
	start := time.Now()
	defer func() { QuerySeconds.WithLabelValues("similar_items_recommend").Observe(time.Since(start).Seconds()) }()
	if err := base.ValidateN(n); err != nil {
		return nil, errors.Trace(err)
	}
	r.index.Register(userId, dataset.UserSpace)
	purchases := r.topPurchases[userId]
	if len(purchases) > n {
		purchases = purchases[:n]
	}
	var recommends []int32
	for _, itemId := range purchases {
		itemIndex, err := r.index.ToIndex(itemId, dataset.ItemSpace)
		if err != nil {
			return nil, errors.Trace(err)
		}
		similar, err := r.similarItems(itemIndex, 1)
		if err != nil {
			return nil, errors.Trace(err)
		}
		recommends = append(recommends, similar...)
	}
	return r.fill(userId, "similar_items_recommend", recommends, n, nil)
}

// GetSimilarUsersRecommendations takes the n users most similar to a user by latent
// factors, collects the top own-items recommendation of each and fills the rest from the
// popularity ranking. A similar user without own-items recommendations contributes the
// most popular item.
func (r *MainRecommender) GetSimilarUsersRecommendations(userId int64, n int) ([]int64, error) {
	start := time.Now()
	defer func() { QuerySeconds.WithLabelValues("similar_users_recommend").Observe(time.Since(start).Seconds()) }()
	if err := base.ValidateN(n); err != nil {
		return nil, errors.Trace(err)
	}
	userIndex := r.index.Register(userId, dataset.UserSpace)
	users, _, err := r.als.SimilarUsers(userIndex, n+1)
	if err != nil && !errors.Is(err, base.ErrColdStart) {
		return nil, errors.Trace(err)
	}
	var recommends []int32
	for _, similarUser := range users {
		if similarUser == userIndex {
			continue
		}
		top, err := r.topOwnItem(similarUser)
		if err != nil {
			return nil, errors.Trace(err)
		}
		recommends = append(recommends, top...)
	}
	return r.fill(userId, "similar_users_recommend", recommends, n, nil)
}

// topOwnItem returns the best own-items recommendation of a fitted user, or the head of
// the popularity ranking if the neighbor model has none.
func (r *MainRecommender) topOwnItem(userIndex int32) ([]int32, error) {
	items, values := r.matrix.UserColumn(userIndex)
	top, _, err := r.ownItems.Recommend(items, values, 1)
	if err != nil && !errors.Is(err, base.ErrColdStart) {
		return nil, errors.Trace(err)
	}
	if len(top) > 0 || len(r.popularity) == 0 {
		return top, nil
	}
	head, err := r.index.ToIndex(r.popularity[0], dataset.ItemSpace)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return []int32{head}, nil
}

// fill converts model output to raw ids, drops duplicates and appends popular items until
// n items are collected. Items in exclude are never returned.
func (r *MainRecommender) fill(id int64, method string, items []int32, n int, exclude []int64) ([]int64, error) {
	seen := mapset.NewThreadUnsafeSet(exclude...)
	result := make([]int64, 0, n)
	for _, itemIndex := range items {
		itemId, err := r.index.ToRaw(itemIndex, dataset.ItemSpace)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(result) < n && seen.Add(itemId) {
			result = append(result, itemId)
		}
	}
	fromModel := len(result)
	for _, itemId := range r.popularity {
		if len(result) >= n {
			break
		}
		if seen.Add(itemId) {
			result = append(result, itemId)
		}
	}
	if fromModel < n {
		FallbackItems.WithLabelValues(method).Add(float64(len(result) - fromModel))
		log.Logger().Debug("fill recommendations with popular items",
			zap.String("method", method),
			zap.Int64("id", id),
			zap.Int("from_model", fromModel),
			zap.Int("from_popularity", len(result)-fromModel))
	}
	if len(result) < n {
		ColdStartQueries.Inc()
		return nil, errors.Trace(base.ColdStartf("%s %d: %d of %d items available", method, id, len(result), n))
	}
	return result, nil
}
