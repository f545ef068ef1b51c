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

package base

import (
	"bufio"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	assert.Equal(t, "123", Escape("123"))
	assert.Equal(t, "\"\"\"123\"\"\"", Escape("\"123\""))
	assert.Equal(t, "\"1,2,3\"", Escape("1,2,3"))
}

func TestReadLines(t *testing.T) {
	text := "user_id,item_id\n1,\"10\"\n2,11\n"
	var lines [][]string
	err := ReadLines(bufio.NewScanner(strings.NewReader(text)), ",", func(_ int, fields []string) bool {
		lines = append(lines, fields)
		return true
	})
	assert.NoError(t, err)
	assert.Equal(t, [][]string{{"user_id", "item_id"}, {"1", "10"}, {"2", "11"}}, lines)
}

func TestParseRawId(t *testing.T) {
	id, err := ParseRawId(" 42 ")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), id)
	id, err = ParseRawId("999999.0")
	assert.NoError(t, err)
	assert.Equal(t, int64(999999), id)
	_, err = ParseRawId("abc")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestColumnIndex(t *testing.T) {
	indices, err := ColumnIndex([]string{"day", "user_id", "item_id"}, "item_id", "user_id")
	assert.NoError(t, err)
	assert.Equal(t, []int{2, 1}, indices)
	_, err = ColumnIndex([]string{"day"}, "user_id")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestErrorKinds(t *testing.T) {
	assert.True(t, errors.Is(ColdStartf("user %d", 1), ErrColdStart))
	assert.True(t, errors.Is(errors.Trace(MissingReferencef("period")), ErrMissingReference))
	assert.True(t, errors.Is(ShapeMismatchf("(%d, %d)", 1, 2), ErrShapeMismatch))
	assert.NoError(t, ValidateN(1))
	assert.True(t, errors.Is(ValidateN(0), errors.NotValid))
}

func TestReadLinesUnterminatedQuote(t *testing.T) {
	text := "user_id,item_id,note\n1,10,ok\n1,11,\"unterminated\n"
	var lines [][]string
	err := ReadLines(bufio.NewScanner(strings.NewReader(text)), ",", func(_ int, fields []string) bool {
		lines = append(lines, fields)
		return true
	})
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Equal(t, [][]string{{"user_id", "item_id", "note"}, {"1", "10", "ok"}}, lines)

	// quoted fields may span lines
	lines = nil
	text = "id,note\n1,\"a\nb\"\n"
	err = ReadLines(bufio.NewScanner(strings.NewReader(text)), ",", func(_ int, fields []string) bool {
		lines = append(lines, fields)
		return true
	})
	assert.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "note"}, {"1", "a\r\nb"}}, lines)
}
