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

package labels

import (
	"bufio"
	"io"
	"os"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	UserIdColumn = "user_id"
	ItemIdColumn = "item_id"
	TargetColumn = "target"
)

// Pair is a (user, item) compound key.
type Pair struct {
	UserId int64
	ItemId int64
}

// Reference is the set of actual purchases in the labelling period.
type Reference struct {
	pairs mapset.Set[Pair]
}

// NewReference collects the (user, item) pairs of transactions.
func NewReference(transactions []dataset.Transaction) *Reference {
	pairs := mapset.NewThreadUnsafeSetWithSize[Pair](len(transactions))
	for _, txn := range transactions {
		pairs.Add(Pair{UserId: txn.UserId, ItemId: txn.ItemId})
	}
	return &Reference{pairs: pairs}
}

// LoadReference loads actual purchases from a transaction csv file.
func LoadReference(path string) (*Reference, error) {
	transactions, err := dataset.LoadTransactions(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewReference(transactions), nil
}

func (r *Reference) Contains(userId, itemId int64) bool {
	return r.pairs.Contains(Pair{UserId: userId, ItemId: itemId})
}

func (r *Reference) Len() int {
	return r.pairs.Cardinality()
}

// FeatureTable holds feature columns keyed by user, by item or by (user, item). Values are
// kept as written, duplicated keys are allowed.
type FeatureTable struct {
	keys    []string
	columns []string
	rows    map[Pair][][]string
}

// NewFeatureTable creates an empty table. Keys must be user_id, item_id or both.
func NewFeatureTable(keys, columns []string) (*FeatureTable, error) {
	switch {
	case slices.Equal(keys, []string{UserIdColumn}),
		slices.Equal(keys, []string{ItemIdColumn}),
		slices.Equal(keys, []string{UserIdColumn, ItemIdColumn}):
	default:
		return nil, errors.NotValidf("feature keys %v", keys)
	}
	reserved := mapset.NewThreadUnsafeSet(UserIdColumn, ItemIdColumn, TargetColumn)
	for _, column := range columns {
		if reserved.Contains(column) {
			return nil, errors.NotValidf("feature column %s", column)
		}
	}
	if dups := lo.FindDuplicates(columns); len(dups) > 0 {
		return nil, errors.NotValidf("duplicated feature columns %v", dups)
	}
	return &FeatureTable{
		keys:    keys,
		columns: columns,
		rows:    make(map[Pair][][]string),
	}, nil
}

// Columns returns names of feature columns.
func (t *FeatureTable) Columns() []string {
	return t.columns
}

// Keys returns names of key columns.
func (t *FeatureTable) Keys() []string {
	return t.keys
}

// Add a row. Key ids follow the order of key columns.
func (t *FeatureTable) Add(keys []int64, values []string) error {
	if len(keys) != len(t.keys) {
		return errors.NotValidf("%d keys, expected %d", len(keys), len(t.keys))
	}
	if len(values) != len(t.columns) {
		return errors.NotValidf("%d values, expected %d", len(values), len(t.columns))
	}
	var key Pair
	for i, name := range t.keys {
		if name == UserIdColumn {
			key.UserId = keys[i]
		} else {
			key.ItemId = keys[i]
		}
	}
	t.rows[key] = append(t.rows[key], values)
	return nil
}

// Lookup returns rows matching a (user, item) pair.
func (t *FeatureTable) Lookup(userId, itemId int64) [][]string {
	var key Pair
	for _, name := range t.keys {
		if name == UserIdColumn {
			key.UserId = userId
		} else {
			key.ItemId = itemId
		}
	}
	return t.rows[key]
}

// LoadFeatureTable loads a feature table from a csv file with a header. Key columns are
// located by name, every other column is a feature.
func LoadFeatureTable(path string, keys ...string) (*FeatureTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	table, err := ReadFeatureTable(file, keys...)
	if err != nil {
		return nil, errors.Annotatef(err, "load features from %s", path)
	}
	log.Logger().Info("load features",
		zap.String("path", path),
		zap.Strings("keys", keys),
		zap.Strings("columns", table.columns))
	return table, nil
}

// ReadFeatureTable parses a feature table from csv.
func ReadFeatureTable(r io.Reader, keys ...string) (*FeatureTable, error) {
	var (
		table      *FeatureTable
		keyCols    []int
		featureCol []int
		parseErr   error
	)
	err := base.ReadLines(bufio.NewScanner(r), ",", func(line int, fields []string) bool {
		if line == 0 {
			if keyCols, parseErr = base.ColumnIndex(fields, keys...); parseErr != nil {
				return false
			}
			var columns []string
			for i, name := range fields {
				if !lo.Contains(keyCols, i) {
					columns = append(columns, strings.TrimSpace(name))
					featureCol = append(featureCol, i)
				}
			}
			table, parseErr = NewFeatureTable(keys, columns)
			return parseErr == nil
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			return true
		}
		if len(fields) < len(keyCols)+len(featureCol) {
			parseErr = errors.NotValidf("%d fields at line %d", len(fields), line)
			return false
		}
		ids := make([]int64, len(keyCols))
		for i, col := range keyCols {
			if ids[i], parseErr = base.ParseRawId(fields[col]); parseErr != nil {
				return false
			}
		}
		values := lo.Map(featureCol, func(col, _ int) string {
			return fields[col]
		})
		parseErr = table.Add(ids, values)
		return parseErr == nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if parseErr != nil {
		return nil, errors.Trace(parseErr)
	}
	if table == nil {
		return nil, errors.NotValidf("empty feature table")
	}
	return table, nil
}
