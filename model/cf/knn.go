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
	"io"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/base/encoding"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/base/progress"
	"github.com/gorse-io/retail/common/heap"
	"github.com/gorse-io/retail/common/parallel"
	"github.com/gorse-io/retail/dataset"
	"github.com/gorse-io/retail/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ItemKNN is an item-item neighbor model. The similarity between two items is the dot
// product of their rows in the weighted matrix and only the K most similar items are kept
// for each item, the item itself included. At query time scores are restricted to the
// items the user already has. Hyper-parameters:
//
//	NNeighbors - The number of neighbors kept per item. Default is 1.
type ItemKNN struct {
	model.BaseModel
	nNeighbors int
	// Model parameters
	Neighbors    [][]int32
	Similarities [][]float32
}

func NewItemKNN(params model.Params) *ItemKNN {
	knn := new(ItemKNN)
	knn.SetParams(params)
	return knn
}

func (knn *ItemKNN) SetParams(params model.Params) {
	knn.BaseModel.SetParams(params)
	knn.nNeighbors = knn.Params.GetInt(model.NNeighbors, 1)
}

func (knn *ItemKNN) CountItems() int {
	return len(knn.Neighbors)
}

// Fit computes the K nearest neighbors of every item.
func (knn *ItemKNN) Fit(ctx context.Context, index *dataset.Index, m *dataset.InteractionMatrix, config *FitConfig) error {
	if err := checkShape(index, m); err != nil {
		return err
	}
	nItems, _ := m.Shape()
	log.Logger().Info("fit item knn",
		zap.Int("n_items", nItems),
		zap.Int("nnz", m.NNZ()),
		zap.Any("params", knn.GetParams()))
	jobs := max(config.Jobs, 1)
	// dense accumulators per worker
	dots := make([][]float32, jobs)
	touched := make([][]int32, jobs)
	for i := range dots {
		dots[i] = make([]float32, nItems)
	}
	knn.Neighbors = make([][]int32, nItems)
	knn.Similarities = make([][]float32, nItems)
	_, span := progress.Start(ctx, "ItemKNN.Fit", nItems)
	err := parallel.Parallel(ctx, nItems, jobs, func(workerId, itemIndex int) error {
		dot := dots[workerId]
		touched[workerId] = touched[workerId][:0]
		users, values := m.ItemRow(int32(itemIndex))
		for k, userIndex := range users {
			items, weights := m.UserColumn(userIndex)
			for j, other := range items {
				if dot[other] == 0 {
					touched[workerId] = append(touched[workerId], other)
				}
				dot[other] += values[k] * weights[j]
			}
		}
		filter := heap.NewTopKFilter[int32, float32](knn.nNeighbors)
		for _, other := range touched[workerId] {
			filter.Push(other, dot[other])
			dot[other] = 0
		}
		knn.Neighbors[itemIndex], knn.Similarities[itemIndex] = split(filter.PopAll())
		span.Add(1)
		return nil
	})
	if err != nil {
		span.Fail(err)
		return errors.Trace(err)
	}
	span.End()
	log.Logger().Info("fit item knn complete")
	return nil
}

// Recommend ranks the items of a user column by sum_j x_uj * s(j, i), restricted to
// items the user has. Items without a positive score are dropped. A user without items is
// reported as cold start.
func (knn *ItemKNN) Recommend(items []int32, values []float32, n int) ([]int32, []float32, error) {
	if err := base.ValidateN(n); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if len(items) == 0 {
		return nil, nil, errors.Trace(base.ColdStartf("empty user column"))
	}
	own := mapset.NewThreadUnsafeSet(items...)
	scores := make(map[int32]float32, len(items))
	for j, itemIndex := range items {
		if int(itemIndex) >= len(knn.Neighbors) || itemIndex < 0 {
			continue
		}
		for k, neighbor := range knn.Neighbors[itemIndex] {
			if own.Contains(neighbor) {
				scores[neighbor] += values[j] * knn.Similarities[itemIndex][k]
			}
		}
	}
	filter := heap.NewTopKFilter[int32, float32](n)
	// push in column order so that ties keep index order
	for _, itemIndex := range items {
		if score := scores[itemIndex]; score > 0 {
			filter.Push(itemIndex, score)
		}
	}
	ranked, rankedScores := split(filter.PopAll())
	return ranked, rankedScores, nil
}

// Similarity returns s(i, j), zero if j is not among the neighbors of i.
func (knn *ItemKNN) Similarity(i, j int32) float32 {
	if i < 0 || int(i) >= len(knn.Neighbors) {
		return 0
	}
	for k, neighbor := range knn.Neighbors[i] {
		if neighbor == j {
			return knn.Similarities[i][k]
		}
	}
	return 0
}

func (knn *ItemKNN) Clear() {
	knn.Neighbors = nil
	knn.Similarities = nil
}

func (knn *ItemKNN) Invalid() bool {
	return knn == nil || knn.Neighbors == nil
}

// Marshal model into byte stream.
func (knn *ItemKNN) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, knn.Params); err != nil {
		return errors.Trace(err)
	}
	if err := marshalCount(w, len(knn.Neighbors)); err != nil {
		return errors.Trace(err)
	}
	for i := range knn.Neighbors {
		if err := marshalCount(w, len(knn.Neighbors[i])); err != nil {
			return errors.Trace(err)
		}
		if err := binary.Write(w, binary.LittleEndian, knn.Neighbors[i]); err != nil {
			return errors.Trace(err)
		}
	}
	if err := encoding.WriteMatrix(w, knn.Similarities); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unmarshal model from byte stream.
func (knn *ItemKNN) Unmarshal(r io.Reader) error {
	if err := encoding.ReadGob(r, &knn.Params); err != nil {
		return errors.Trace(err)
	}
	knn.SetParams(knn.Params)
	nItems, err := unmarshalCount(r)
	if err != nil {
		return errors.Trace(err)
	}
	knn.Neighbors = make([][]int32, nItems)
	for i := range knn.Neighbors {
		n, err := unmarshalCount(r)
		if err != nil {
			return errors.Trace(err)
		}
		knn.Neighbors[i] = make([]int32, n)
		if err = binary.Read(r, binary.LittleEndian, knn.Neighbors[i]); err != nil {
			return errors.Trace(err)
		}
	}
	if knn.Similarities, err = encoding.ReadMatrix(r); err != nil {
		return errors.Trace(err)
	}
	if len(knn.Similarities) != nItems {
		return errors.NotValidf("similarities of %d items", len(knn.Similarities))
	}
	return nil
}
