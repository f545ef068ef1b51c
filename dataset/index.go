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
	"sync"

	"github.com/juju/errors"
)

// Space selects one of the two identifier spaces of an Index.
type Space int

const (
	UserSpace Space = iota
	ItemSpace
)

func (s Space) String() string {
	switch s {
	case UserSpace:
		return "user"
	case ItemSpace:
		return "item"
	default:
		return "unknown"
	}
}

// Index maps raw identifiers to dense matrix indices in two independent spaces.
// Indices are assigned in registration order starting from 0 and never renumbered.
// All methods are safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	toIndex [2]map[int64]int32
	toRaw   [2][]int64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		toIndex: [2]map[int64]int32{make(map[int64]int32), make(map[int64]int32)},
	}
}

func checkSpace(space Space) {
	if space != UserSpace && space != ItemSpace {
		panic("dataset: invalid space")
	}
}

// Register returns the index of rawId, assigning the next index if rawId is new.
func (idx *Index) Register(rawId int64, space Space) int32 {
	checkSpace(space)
	idx.mu.RLock()
	index, exist := idx.toIndex[space][rawId]
	idx.mu.RUnlock()
	if exist {
		return index
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	// another goroutine may have registered it in between
	if index, exist = idx.toIndex[space][rawId]; exist {
		return index
	}
	index = int32(len(idx.toRaw[space]))
	idx.toIndex[space][rawId] = index
	idx.toRaw[space] = append(idx.toRaw[space], rawId)
	return index
}

// ToIndex looks up the index of rawId without registering it.
func (idx *Index) ToIndex(rawId int64, space Space) (int32, error) {
	checkSpace(space)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if index, exist := idx.toIndex[space][rawId]; exist {
		return index, nil
	}
	return 0, errors.NotFoundf("%v %d", space, rawId)
}

// ToRaw looks up the raw identifier of an index.
func (idx *Index) ToRaw(index int32, space Space) (int64, error) {
	checkSpace(space)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if index < 0 || int(index) >= len(idx.toRaw[space]) {
		return 0, errors.NotFoundf("%v index %d", space, index)
	}
	return idx.toRaw[space][index], nil
}

// Contains returns true if rawId has been registered.
func (idx *Index) Contains(rawId int64, space Space) bool {
	checkSpace(space)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, exist := idx.toIndex[space][rawId]
	return exist
}

// Count returns the number of registered identifiers in a space.
func (idx *Index) Count(space Space) int {
	checkSpace(space)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.toRaw[space])
}

// Marshal index into byte stream.
func (idx *Index) Marshal(w io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for space := range idx.toRaw {
		if err := binary.Write(w, binary.LittleEndian, int64(len(idx.toRaw[space]))); err != nil {
			return errors.Trace(err)
		}
		if err := binary.Write(w, binary.LittleEndian, idx.toRaw[space]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal index from byte stream.
func (idx *Index) Unmarshal(r io.Reader) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for space := range idx.toRaw {
		var n int64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return errors.Trace(err)
		}
		if n < 0 {
			return errors.NotValidf("%v count %d", Space(space), n)
		}
		raw := make([]int64, n)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return errors.Trace(err)
		}
		idx.toRaw[space] = raw
		idx.toIndex[space] = make(map[int64]int32, n)
		for i, rawId := range raw {
			idx.toIndex[space][rawId] = int32(i)
		}
	}
	return nil
}
