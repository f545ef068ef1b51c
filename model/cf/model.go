// Copyright 2021 gorse Project Authors
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

package cf

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/base/encoding"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/base/progress"
	"github.com/gorse-io/retail/common/floats"
	"github.com/gorse-io/retail/common/heap"
	"github.com/gorse-io/retail/common/parallel"
	"github.com/gorse-io/retail/dataset"
	"github.com/gorse-io/retail/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

type FitConfig struct {
	Jobs    int
	Verbose int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
	}
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// checkShape fails if the matrix was built against a different index state.
func checkShape(index *dataset.Index, m *dataset.InteractionMatrix) error {
	nItems, nUsers := m.Shape()
	if index.Count(dataset.ItemSpace) != nItems || index.Count(dataset.UserSpace) != nUsers {
		return errors.Trace(base.ShapeMismatchf("matrix (%d, %d) but index (%d, %d)",
			nItems, nUsers, index.Count(dataset.ItemSpace), index.Count(dataset.UserSpace)))
	}
	return nil
}

type BaseMatrixFactorization struct {
	model.BaseModel
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
}

func (baseModel *BaseMatrixFactorization) Init(m *dataset.InteractionMatrix) {
	nItems, nUsers := m.Shape()
	// set user trained flags
	baseModel.UserPredictable = bitset.New(uint(nUsers))
	for userIndex := 0; userIndex < nUsers; userIndex++ {
		if items, _ := m.UserColumn(int32(userIndex)); len(items) > 0 {
			baseModel.UserPredictable.Set(uint(userIndex))
		}
	}
	// set item trained flags
	baseModel.ItemPredictable = bitset.New(uint(nItems))
	for itemIndex := 0; itemIndex < nItems; itemIndex++ {
		if users, _ := m.ItemRow(int32(itemIndex)); len(users) > 0 {
			baseModel.ItemPredictable.Set(uint(itemIndex))
		}
	}
}

func (baseModel *BaseMatrixFactorization) CountUsers() int {
	return len(baseModel.UserFactor)
}

func (baseModel *BaseMatrixFactorization) CountItems() int {
	return len(baseModel.ItemFactor)
}

// IsUserPredictable returns false if user has no feedback and its embedding vector never be trained.
func (baseModel *BaseMatrixFactorization) IsUserPredictable(userIndex int32) bool {
	if baseModel.UserPredictable == nil || userIndex < 0 || int(userIndex) >= len(baseModel.UserFactor) {
		return false
	}
	return baseModel.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if item has no feedback and its embedding vector never be trained.
func (baseModel *BaseMatrixFactorization) IsItemPredictable(itemIndex int32) bool {
	if baseModel.ItemPredictable == nil || itemIndex < 0 || int(itemIndex) >= len(baseModel.ItemFactor) {
		return false
	}
	return baseModel.ItemPredictable.Test(uint(itemIndex))
}

func (baseModel *BaseMatrixFactorization) internalPredict(userIndex, itemIndex int32) float32 {
	return floats.Dot(baseModel.UserFactor[userIndex], baseModel.ItemFactor[itemIndex])
}

// Recommend ranks predictable items for a user by inner product. Items in exclude are
// skipped. Users without a trained embedding are reported as cold start.
func (baseModel *BaseMatrixFactorization) Recommend(userIndex int32, n int, exclude []int32) ([]int32, []float32, error) {
	if err := base.ValidateN(n); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if !baseModel.IsUserPredictable(userIndex) {
		return nil, nil, errors.Trace(base.ColdStartf("user index %d", userIndex))
	}
	excludeSet := mapset.NewThreadUnsafeSet(exclude...)
	filter := heap.NewTopKFilter[int32, float32](n)
	for itemIndex := range baseModel.ItemFactor {
		if baseModel.ItemPredictable.Test(uint(itemIndex)) && !excludeSet.Contains(int32(itemIndex)) {
			filter.Push(int32(itemIndex), baseModel.internalPredict(userIndex, int32(itemIndex)))
		}
	}
	items, scores := split(filter.PopAll())
	return items, scores, nil
}

// SimilarItems ranks predictable items by cosine similarity of item factors. The query
// item itself is included if it ranks.
func (baseModel *BaseMatrixFactorization) SimilarItems(itemIndex int32, n int) ([]int32, []float32, error) {
	if err := base.ValidateN(n); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if !baseModel.IsItemPredictable(itemIndex) {
		return nil, nil, errors.Trace(base.ColdStartf("item index %d", itemIndex))
	}
	items, scores := similar(baseModel.ItemFactor, baseModel.ItemPredictable, itemIndex, n)
	return items, scores, nil
}

// SimilarUsers ranks predictable users by cosine similarity of user factors. The query
// user itself is included if it ranks.
func (baseModel *BaseMatrixFactorization) SimilarUsers(userIndex int32, n int) ([]int32, []float32, error) {
	if err := base.ValidateN(n); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if !baseModel.IsUserPredictable(userIndex) {
		return nil, nil, errors.Trace(base.ColdStartf("user index %d", userIndex))
	}
	users, scores := similar(baseModel.UserFactor, baseModel.UserPredictable, userIndex, n)
	return users, scores, nil
}

func similar(factors [][]float32, predictable *bitset.BitSet, query int32, n int) ([]int32, []float32) {
	filter := heap.NewTopKFilter[int32, float32](n)
	for i := range factors {
		if predictable.Test(uint(i)) {
			filter.Push(int32(i), floats.Cosine(factors[query], factors[i]))
		}
	}
	return split(filter.PopAll())
}

func split(elems []heap.Elem[int32, float32]) ([]int32, []float32) {
	items := make([]int32, len(elems))
	scores := make([]float32, len(elems))
	for i, elem := range elems {
		items[i] = elem.Value
		scores[i] = elem.Weight
	}
	return items, scores
}

// Marshal model into byte stream.
func (baseModel *BaseMatrixFactorization) Marshal(w io.Writer) error {
	// write params
	if err := encoding.WriteGob(w, baseModel.Params); err != nil {
		return errors.Trace(err)
	}
	// write predictable flags
	if _, err := baseModel.UserPredictable.WriteTo(w); err != nil {
		return errors.Trace(err)
	}
	if _, err := baseModel.ItemPredictable.WriteTo(w); err != nil {
		return errors.Trace(err)
	}
	// write latent factors
	if err := encoding.WriteMatrix(w, baseModel.UserFactor); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, baseModel.ItemFactor); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unmarshal model from byte stream.
func (baseModel *BaseMatrixFactorization) Unmarshal(r io.Reader) error {
	var err error
	// read params
	if err = encoding.ReadGob(r, &baseModel.Params); err != nil {
		return errors.Trace(err)
	}
	// read predictable flags
	baseModel.UserPredictable = new(bitset.BitSet)
	if _, err = baseModel.UserPredictable.ReadFrom(r); err != nil {
		return errors.Trace(err)
	}
	baseModel.ItemPredictable = new(bitset.BitSet)
	if _, err = baseModel.ItemPredictable.ReadFrom(r); err != nil {
		return errors.Trace(err)
	}
	// read latent factors
	if baseModel.UserFactor, err = encoding.ReadMatrix(r); err != nil {
		return errors.Trace(err)
	}
	if baseModel.ItemFactor, err = encoding.ReadMatrix(r); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (baseModel *BaseMatrixFactorization) Clear() {
	baseModel.UserPredictable = nil
	baseModel.ItemPredictable = nil
	baseModel.ItemFactor = nil
	baseModel.UserFactor = nil
}

func (baseModel *BaseMatrixFactorization) Invalid() bool {
	return baseModel == nil ||
		baseModel.UserPredictable == nil ||
		baseModel.ItemPredictable == nil
}

// ALS is the element-wise alternating least squares model [1] for implicit feedback. Each
// observed cell (i, u) with weighted value r_ui is fitted to 1 with confidence
// c_ui = 1 + alpha * r_ui. Every unobserved cell is fitted to 0 with the constant
// weight w. Hyper-parameters:
//
//	Reg        - The regularization parameter of the cost function that is
//	             optimized. Default is 0.001.
//	NFactors   - The number of latent factors. Default is 20.
//	NEpochs    - The number of iteration of the ALS procedure. Default is 15.
//	Alpha      - The confidence scale of observed cells. Default is 1.
//	Weight     - The weight of unobserved cells. Default is 0.001.
//	InitMean   - The mean of initial random latent factors. Default is 0.
//	InitStdDev - The standard deviation of initial random latent factors. Default is 0.01.
//
// [1] He, Xiangnan, et al. "Fast matrix factorization for online recommendation with
// implicit feedback." Proceedings of the 39th International ACM SIGIR conference on
// Research and Development in Information Retrieval. 2016.
type ALS struct {
	BaseMatrixFactorization
	// Hyper parameters
	nFactors   int
	nEpochs    int
	reg        float32
	alpha      float32
	weight     float32
	initMean   float32
	initStdDev float32
}

// NewALS creates a eALS model.
func NewALS(params model.Params) *ALS {
	als := new(ALS)
	als.SetParams(params)
	return als
}

// SetParams sets hyper-parameters for the ALS model.
func (als *ALS) SetParams(params model.Params) {
	als.BaseMatrixFactorization.SetParams(params)
	als.nFactors = als.Params.GetInt(model.NFactors, 20)
	als.nEpochs = als.Params.GetInt(model.NEpochs, 15)
	als.reg = als.Params.GetFloat32(model.Reg, 0.001)
	als.alpha = als.Params.GetFloat32(model.Alpha, 1)
	als.weight = als.Params.GetFloat32(model.Weight, 0.001)
	als.initMean = als.Params.GetFloat32(model.InitMean, 0)
	als.initStdDev = als.Params.GetFloat32(model.InitStdDev, 0.01)
}

func (als *ALS) Init(m *dataset.InteractionMatrix) {
	nItems, nUsers := m.Shape()
	als.UserFactor = als.GetRandomGenerator().NormalMatrix(nUsers, als.nFactors, als.initMean, als.initStdDev)
	als.ItemFactor = als.GetRandomGenerator().NormalMatrix(nItems, als.nFactors, als.initMean, als.initStdDev)
	als.BaseMatrixFactorization.Init(m)
}

// Fit the ALS model on a weighted item x user matrix. The matrix shape must match the
// index cardinalities.
func (als *ALS) Fit(ctx context.Context, index *dataset.Index, m *dataset.InteractionMatrix, config *FitConfig) error {
	if err := checkShape(index, m); err != nil {
		return err
	}
	nItems, nUsers := m.Shape()
	log.Logger().Info("fit als",
		zap.Int("n_items", nItems),
		zap.Int("n_users", nUsers),
		zap.Int("nnz", m.NNZ()),
		zap.Any("params", als.GetParams()),
		zap.Any("config", config))
	// reseed so that refitting is reproducible
	als.SetParams(als.Params)
	als.Init(m)
	// Create temporary matrix
	jobs := max(config.Jobs, 1)
	s := base.NewMatrix32(als.nFactors, als.nFactors)
	userPredictions := make([][]float32, jobs)
	itemPredictions := make([][]float32, jobs)
	userRes := make([][]float32, jobs)
	itemRes := make([][]float32, jobs)
	for i := 0; i < jobs; i++ {
		userPredictions[i] = make([]float32, nItems)
		itemPredictions[i] = make([]float32, nUsers)
		userRes[i] = make([]float32, nItems)
		itemRes[i] = make([]float32, nUsers)
	}

	_, span := progress.Start(ctx, "ALS.Fit", als.nEpochs)
	for ep := 1; ep <= als.nEpochs; ep++ {
		fitStart := time.Now()
		// Update user factors
		// S^q <- \sum^N_{itemIndex=1} q_i q_i^T
		als.gram(s, als.ItemFactor, als.ItemPredictable)
		err := parallel.Parallel(ctx, nUsers, jobs, func(workerId, userIndex int) error {
			items, values := m.UserColumn(int32(userIndex))
			als.update(als.UserFactor[userIndex], als.ItemFactor, items, values, s,
				userPredictions[workerId], userRes[workerId])
			return nil
		})
		if err != nil {
			span.Fail(err)
			return errors.Trace(err)
		}
		// Update item factors
		// S^p <- P^T P
		als.gram(s, als.UserFactor, als.UserPredictable)
		err = parallel.Parallel(ctx, nItems, jobs, func(workerId, itemIndex int) error {
			users, values := m.ItemRow(int32(itemIndex))
			als.update(als.ItemFactor[itemIndex], als.UserFactor, users, values, s,
				itemPredictions[workerId], itemRes[workerId])
			return nil
		})
		if err != nil {
			span.Fail(err)
			return errors.Trace(err)
		}
		fitTime := time.Since(fitStart)
		if config.Verbose > 0 && (ep%config.Verbose == 0 || ep == als.nEpochs) {
			log.Logger().Debug(fmt.Sprintf("fit als %v/%v", ep, als.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.Float32("loss", als.loss(m)))
		}
		span.Add(1)
	}
	span.End()
	log.Logger().Info("fit als complete", zap.Int("n_epochs", als.nEpochs))
	return nil
}

// gram computes s = \sum_k x_k x_k^T over predictable rows.
func (als *ALS) gram(s, x [][]float32, predictable *bitset.BitSet) {
	floats.MatZero(s)
	for k := range x {
		if predictable.Test(uint(k)) {
			for i := 0; i < als.nFactors; i++ {
				floats.MulConstAdd(x[k], x[k][i], s[i])
			}
		}
	}
}

// update runs one round of coordinate descent on factor p against the fixed factors q.
// others and values are the observed cells of p. predictions and res are scratch buffers
// indexed like q.
func (als *ALS) update(p []float32, q [][]float32, others []int32, values []float32, s [][]float32,
	predictions, res []float32) {
	for _, k := range others {
		predictions[k] = floats.Dot(p, q[k])
	}
	for f := 0; f < als.nFactors; f++ {
		// \hat_{r}^f <- \hat_{r} - p_f q_f
		for _, k := range others {
			res[k] = predictions[k] - p[f]*q[k][f]
		}
		a, b, c := float32(0), float32(0), float32(0)
		for j, k := range others {
			confidence := 1 + als.alpha*values[j]
			a += (confidence - (confidence-als.weight)*res[k]) * q[k][f]
			c += (confidence - als.weight) * q[k][f] * q[k][f]
		}
		for k := 0; k < als.nFactors; k++ {
			if k != f {
				b += als.weight * p[k] * s[k][f]
			}
		}
		p[f] = (a - b) / (c + als.weight*s[f][f] + als.reg)
		// \hat_{r} <- \hat_{r}^f + p_f q_f
		for _, k := range others {
			predictions[k] = res[k] + p[f]*q[k][f]
		}
	}
}

// loss returns the weighted squared error on observed cells.
func (als *ALS) loss(m *dataset.InteractionMatrix) float32 {
	var sum float32
	for userIndex := range als.UserFactor {
		items, values := m.UserColumn(int32(userIndex))
		for j, itemIndex := range items {
			e := 1 - als.internalPredict(int32(userIndex), itemIndex)
			sum += (1 + als.alpha*values[j]) * e * e
		}
	}
	return sum
}

// Unmarshal model from byte stream.
func (als *ALS) Unmarshal(r io.Reader) error {
	if err := als.BaseMatrixFactorization.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	als.SetParams(als.Params)
	return nil
}

// marshalCount writes a length prefix.
func marshalCount(w io.Writer, n int) error {
	return binary.Write(w, binary.LittleEndian, int64(n))
}

func unmarshalCount(r io.Reader) (int, error) {
	var n int64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, errors.Trace(err)
	}
	if n < 0 {
		return 0, errors.NotValidf("length %d", n)
	}
	return int(n), nil
}
