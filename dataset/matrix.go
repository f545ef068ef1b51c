// Copyright 2022 gorse Project Authors
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

package dataset

import (
	"encoding/binary"
	"io"
	"math"
	"slices"

	"github.com/gorse-io/retail/base/log"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// InteractionMatrix is a sparse item x user matrix. Entries are kept both by user
// column and by item row, each sorted by index.
type InteractionMatrix struct {
	nItems     int
	nUsers     int
	userItems  [][]int32
	userValues [][]float32
	itemUsers  [][]int32
	itemValues [][]float32
}

// NewInteractionMatrix creates a matrix from user columns. Item indices in each column
// must be distinct.
func NewInteractionMatrix(nItems, nUsers int, userItems [][]int32, userValues [][]float32) *InteractionMatrix {
	m := &InteractionMatrix{
		nItems:     nItems,
		nUsers:     nUsers,
		userItems:  make([][]int32, nUsers),
		userValues: make([][]float32, nUsers),
		itemUsers:  make([][]int32, nItems),
		itemValues: make([][]float32, nItems),
	}
	for u := 0; u < nUsers && u < len(userItems); u++ {
		order := lo.Range(len(userItems[u]))
		slices.SortFunc(order, func(a, b int) int {
			return int(userItems[u][a] - userItems[u][b])
		})
		m.userItems[u] = make([]int32, len(order))
		m.userValues[u] = make([]float32, len(order))
		for k, j := range order {
			m.userItems[u][k] = userItems[u][j]
			m.userValues[u][k] = userValues[u][j]
		}
	}
	// users are visited in increasing order so item rows come out sorted
	for u := range m.userItems {
		for k, i := range m.userItems[u] {
			m.itemUsers[i] = append(m.itemUsers[i], int32(u))
			m.itemValues[i] = append(m.itemValues[i], m.userValues[u][k])
		}
	}
	return m
}

// Shape returns (number of items, number of users).
func (m *InteractionMatrix) Shape() (int, int) {
	return m.nItems, m.nUsers
}

func (m *InteractionMatrix) CountItems() int {
	return m.nItems
}

func (m *InteractionMatrix) CountUsers() int {
	return m.nUsers
}

// NNZ returns the number of stored entries.
func (m *InteractionMatrix) NNZ() int {
	n := 0
	for _, items := range m.userItems {
		n += len(items)
	}
	return n
}

// UserColumn returns items and values of a user column. Users outside the matrix have empty columns.
func (m *InteractionMatrix) UserColumn(userIndex int32) ([]int32, []float32) {
	if userIndex < 0 || int(userIndex) >= m.nUsers {
		return nil, nil
	}
	return m.userItems[userIndex], m.userValues[userIndex]
}

// ItemRow returns users and values of an item row. Items outside the matrix have empty rows.
func (m *InteractionMatrix) ItemRow(itemIndex int32) ([]int32, []float32) {
	if itemIndex < 0 || int(itemIndex) >= m.nItems {
		return nil, nil
	}
	return m.itemUsers[itemIndex], m.itemValues[itemIndex]
}

// Get returns the value of cell (item, user).
func (m *InteractionMatrix) Get(itemIndex, userIndex int32) float32 {
	items, values := m.UserColumn(userIndex)
	if pos, found := slices.BinarySearch(items, itemIndex); found {
		return values[pos]
	}
	return 0
}

// Marshal matrix into byte stream.
func (m *InteractionMatrix) Marshal(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, [2]int64{int64(m.nItems), int64(m.nUsers)}); err != nil {
		return errors.Trace(err)
	}
	for u := range m.userItems {
		if err := binary.Write(w, binary.LittleEndian, int64(len(m.userItems[u]))); err != nil {
			return errors.Trace(err)
		}
		if err := binary.Write(w, binary.LittleEndian, m.userItems[u]); err != nil {
			return errors.Trace(err)
		}
		if err := binary.Write(w, binary.LittleEndian, m.userValues[u]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// UnmarshalInteractionMatrix reads a matrix from byte stream.
func UnmarshalInteractionMatrix(r io.Reader) (*InteractionMatrix, error) {
	var shape [2]int64
	if err := binary.Read(r, binary.LittleEndian, &shape); err != nil {
		return nil, errors.Trace(err)
	}
	if shape[0] < 0 || shape[1] < 0 {
		return nil, errors.NotValidf("matrix shape (%d, %d)", shape[0], shape[1])
	}
	userItems := make([][]int32, shape[1])
	userValues := make([][]float32, shape[1])
	for u := range userItems {
		var n int64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Trace(err)
		}
		if n < 0 || n > shape[0] {
			return nil, errors.NotValidf("column length %d", n)
		}
		userItems[u] = make([]int32, n)
		userValues[u] = make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, userItems[u]); err != nil {
			return nil, errors.Trace(err)
		}
		if err := binary.Read(r, binary.LittleEndian, userValues[u]); err != nil {
			return nil, errors.Trace(err)
		}
		for _, i := range userItems[u] {
			if i < 0 || int64(i) >= shape[0] {
				return nil, errors.NotValidf("item index %d", i)
			}
		}
	}
	return NewInteractionMatrix(int(shape[0]), int(shape[1]), userItems, userValues), nil
}

// MatrixBuilder aggregates transactions into a weighted interaction matrix.
type MatrixBuilder struct {
	k1 float64
	b  float64
}

// NewMatrixBuilder creates a builder with BM25 constants k1 and b.
func NewMatrixBuilder(k1, b float64) (*MatrixBuilder, error) {
	if math.IsNaN(k1) || k1 < 0 {
		return nil, errors.NotValidf("bm25 k1 %v", k1)
	}
	if math.IsNaN(b) || b < 0 || b > 1 {
		return nil, errors.NotValidf("bm25 b %v", b)
	}
	return &MatrixBuilder{k1: k1, b: b}, nil
}

// Build registers users and items of transactions in first-seen order and returns the
// BM25 weighted matrix. Raw cells count transaction rows, not quantities. The shape
// equals the index cardinalities after registration.
func (builder *MatrixBuilder) Build(index *Index, transactions []Transaction) *InteractionMatrix {
	counts := make(map[[2]int32]float64)
	var cells [][2]int32
	for _, txn := range transactions {
		userIndex := index.Register(txn.UserId, UserSpace)
		itemIndex := index.Register(txn.ItemId, ItemSpace)
		cell := [2]int32{userIndex, itemIndex}
		if _, exist := counts[cell]; !exist {
			cells = append(cells, cell)
		}
		counts[cell]++
	}
	nUsers, nItems := index.Count(UserSpace), index.Count(ItemSpace)
	// column mass
	userLen := make([]float64, nUsers)
	totalLen := 0.0
	for _, cell := range cells {
		userLen[cell[0]] += counts[cell]
		totalLen += counts[cell]
	}
	avgLen := 0.0
	if nUsers > 0 {
		avgLen = totalLen / float64(nUsers)
	}
	userItems := make([][]int32, nUsers)
	userValues := make([][]float32, nUsers)
	for _, cell := range cells {
		raw := counts[cell]
		userItems[cell[0]] = append(userItems[cell[0]], cell[1])
		userValues[cell[0]] = append(userValues[cell[0]], float32(builder.weight(raw, userLen[cell[0]], avgLen)))
	}
	m := NewInteractionMatrix(nItems, nUsers, userItems, userValues)
	log.Logger().Debug("build interaction matrix",
		zap.Int("n_transactions", len(transactions)),
		zap.Int("n_items", nItems),
		zap.Int("n_users", nUsers),
		zap.Int("nnz", m.NNZ()))
	return m
}

// weight = raw * (k1 + 1) / (raw + k1 * (1 - b + b * len / avgLen))
func (builder *MatrixBuilder) weight(raw, length, avgLen float64) float64 {
	norm := 1 - builder.b
	if avgLen > 0 {
		norm += builder.b * length / avgLen
	}
	return raw * (builder.k1 + 1) / (raw + builder.k1*norm)
}
