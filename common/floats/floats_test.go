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

package floats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatZero(t *testing.T) {
	a := [][]float32{{3, 2, 1, 4}, {-1, -2, -3, -4}}
	MatZero(a)
	assert.Equal(t, [][]float32{{0, 0, 0, 0}, {0, 0, 0, 0}}, a)
}

func TestMulConstAdd(t *testing.T) {
	a := []float32{0, 1, 2, 3}
	b := []float32{0, 2, 4, 6}
	MulConstAdd(a, 2, b)
	assert.Equal(t, []float32{0, 4, 8, 12}, b)
	assert.Panics(t, func() { MulConstAdd([]float32{1}, 1, nil) })
}

func TestDot(t *testing.T) {
	a := []float32{0, 1, 2, 3}
	b := []float32{0, 2, 4, 6}
	assert.Equal(t, float32(28), Dot(a, b))
	assert.Panics(t, func() { Dot([]float32{1}, nil) })
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.InDelta(t, 5, Norm([]float32{3, 4}), 1e-6)
}
