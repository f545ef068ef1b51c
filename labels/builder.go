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
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/candidates"
	"github.com/gorse-io/retail/config"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/gorse-io/retail/labels")

// Row is a labelled (user, item) candidate with its feature values.
type Row struct {
	UserId   int64
	ItemId   int64
	Target   int
	Features []string
}

// Table is the supervised table of a labelling period.
type Table struct {
	Columns []string
	Rows    []Row
}

// Positives returns the number of rows with target 1.
func (t *Table) Positives() int {
	return lo.CountBy(t.Rows, func(row Row) bool {
		return row.Target == 1
	})
}

// WriteCSV writes the table with a header of user_id, item_id, target and feature columns.
func (t *Table) WriteCSV(w io.Writer) error {
	buf := bufio.NewWriter(w)
	header := append([]string{UserIdColumn, ItemIdColumn, TargetColumn}, t.Columns...)
	if _, err := fmt.Fprintln(buf, strings.Join(lo.Map(header, func(name string, _ int) string {
		return base.Escape(name)
	}), ",")); err != nil {
		return errors.Trace(err)
	}
	for _, row := range t.Rows {
		if _, err := fmt.Fprintf(buf, "%d,%d,%d", row.UserId, row.ItemId, row.Target); err != nil {
			return errors.Trace(err)
		}
		for _, value := range row.Features {
			if _, err := fmt.Fprintf(buf, ",%s", base.Escape(value)); err != nil {
				return errors.Trace(err)
			}
		}
		if _, err := fmt.Fprintln(buf); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(buf.Flush())
}

type derivedFeature struct {
	name    string
	program *vm.Program
}

// Builder labels candidates with actual purchases and joins feature tables.
type Builder struct {
	fillValue        string
	itemFeatures     *FeatureTable
	userFeatures     *FeatureTable
	userItemFeatures *FeatureTable
	derived          []derivedFeature
}

// NewBuilder creates a builder. Derived feature expressions are compiled here.
func NewBuilder(cfg config.LabelsConfig) (*Builder, error) {
	b := &Builder{fillValue: strconv.FormatFloat(cfg.FillValue, 'g', -1, 64)}
	for _, feature := range cfg.DerivedFeatures {
		if lo.Contains([]string{UserIdColumn, ItemIdColumn, TargetColumn}, feature.Name) {
			return nil, errors.NotValidf("derived feature %s", feature.Name)
		}
		program, err := expr.Compile(feature.Expr)
		if err != nil {
			return nil, errors.NewNotValid(err, fmt.Sprintf("derived feature %s", feature.Name))
		}
		b.derived = append(b.derived, derivedFeature{name: feature.Name, program: program})
	}
	return b, nil
}

// SetItemFeatures sets the table joined on item_id.
func (b *Builder) SetItemFeatures(table *FeatureTable) error {
	if table != nil && (len(table.Keys()) != 1 || table.Keys()[0] != ItemIdColumn) {
		return errors.NotValidf("item features keyed by %v", table.Keys())
	}
	b.itemFeatures = table
	return nil
}

// SetUserFeatures sets the table joined on user_id.
func (b *Builder) SetUserFeatures(table *FeatureTable) error {
	if table != nil && (len(table.Keys()) != 1 || table.Keys()[0] != UserIdColumn) {
		return errors.NotValidf("user features keyed by %v", table.Keys())
	}
	b.userFeatures = table
	return nil
}

// SetUserItemFeatures sets the table joined on (user_id, item_id).
func (b *Builder) SetUserItemFeatures(table *FeatureTable) error {
	if table != nil && len(table.Keys()) != 2 {
		return errors.NotValidf("user-item features keyed by %v", table.Keys())
	}
	b.userItemFeatures = table
	return nil
}

func (b *Builder) tables() []*FeatureTable {
	return lo.Filter([]*FeatureTable{b.itemFeatures, b.userFeatures, b.userItemFeatures}, func(t *FeatureTable, _ int) bool {
		return t != nil
	})
}

func (b *Builder) columns() ([]string, error) {
	var columns []string
	for _, table := range b.tables() {
		columns = append(columns, table.Columns()...)
	}
	for _, feature := range b.derived {
		columns = append(columns, feature.name)
	}
	if dups := lo.FindDuplicates(columns); len(dups) > 0 {
		return nil, errors.NotValidf("duplicated feature columns %v", dups)
	}
	return columns, nil
}

// Build explodes candidate lists into (user, item) rows, sets target 1 for actual
// purchases and 0 otherwise, left joins feature tables and drops identical rows. A missing
// reference fails the build.
func (b *Builder) Build(ctx context.Context, lists []candidates.CandidateList, reference *Reference) (*Table, error) {
	_, span := tracer.Start(ctx, "Builder.Build")
	defer span.End()
	start := time.Now()
	if reference == nil {
		err := base.MissingReferencef("label %d candidate lists", len(lists))
		span.RecordError(err)
		return nil, errors.Trace(err)
	}
	columns, err := b.columns()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(lists) > 0 {
		width := len(lists[0].Items)
		for _, list := range lists {
			if len(list.Items) != width {
				return nil, errors.NotValidf("%d candidates of user %d, expected %d", len(list.Items), list.UserId, width)
			}
		}
	}

	table := &Table{Columns: columns}
	seen := mapset.NewThreadUnsafeSet[string]()
	nExploded := 0
	for _, list := range lists {
		for _, itemId := range list.Items {
			nExploded++
			target := 0
			if reference.Contains(list.UserId, itemId) {
				target = 1
			}
			for _, features := range b.join(list.UserId, itemId) {
				row := Row{UserId: list.UserId, ItemId: itemId, Target: target, Features: features}
				if err = b.derive(&row, columns); err != nil {
					return nil, errors.Trace(err)
				}
				if seen.Add(rowKey(row)) {
					table.Rows = append(table.Rows, row)
				}
			}
		}
	}

	positives := table.Positives()
	LabelRows.Add(float64(len(table.Rows)))
	PositiveLabels.Add(float64(positives))
	span.SetAttributes(
		attribute.Int("n_rows", len(table.Rows)),
		attribute.Int("n_positives", positives))
	log.Logger().Info("build labels complete",
		zap.Int("n_users", len(lists)),
		zap.Int("n_exploded", nExploded),
		zap.Int("n_rows", len(table.Rows)),
		zap.Int("n_positives", positives),
		zap.Int("n_columns", len(columns)),
		zap.Duration("duration", time.Since(start)))
	return table, nil
}

// join returns the cross product of matching rows of each table. Tables without a match
// contribute one row of fill values.
func (b *Builder) join(userId, itemId int64) [][]string {
	joined := [][]string{nil}
	for _, table := range b.tables() {
		matches := table.Lookup(userId, itemId)
		if len(matches) == 0 {
			matches = [][]string{lo.RepeatBy(len(table.Columns()), func(int) string {
				return b.fillValue
			})}
		}
		next := make([][]string, 0, len(joined)*len(matches))
		for _, prefix := range joined {
			for _, match := range matches {
				next = append(next, append(append([]string(nil), prefix...), match...))
			}
		}
		joined = next
	}
	return joined
}

// derive appends derived features evaluated over the columns of a row.
func (b *Builder) derive(row *Row, columns []string) error {
	if len(b.derived) == 0 {
		return nil
	}
	env := map[string]any{
		UserIdColumn: row.UserId,
		ItemIdColumn: row.ItemId,
		TargetColumn: row.Target,
	}
	for i, value := range row.Features {
		if number, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			env[columns[i]] = number
		} else {
			env[columns[i]] = value
		}
	}
	for _, feature := range b.derived {
		result, err := expr.Run(feature.program, env)
		if err != nil {
			return errors.Annotatef(err, "evaluate %s for user %d and item %d", feature.name, row.UserId, row.ItemId)
		}
		var value string
		switch v := result.(type) {
		case float64:
			value = strconv.FormatFloat(v, 'g', -1, 64)
		case int:
			value = strconv.Itoa(v)
		case int64:
			value = strconv.FormatInt(v, 10)
		case bool:
			value = lo.Ternary(v, "1", "0")
		case string:
			value = v
		case nil:
			value = b.fillValue
		default:
			return errors.NotValidf("%s evaluates to %T", feature.name, result)
		}
		row.Features = append(row.Features, value)
		env[feature.name] = result
	}
	return nil
}

func rowKey(row Row) string {
	return fmt.Sprintf("%d\x1f%d\x1f%d\x1f%s", row.UserId, row.ItemId, row.Target, strings.Join(row.Features, "\x1f"))
}
