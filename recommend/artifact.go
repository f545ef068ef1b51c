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
	"bufio"
	"context"
	"io"

	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/base/encoding"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/dataset"
	"github.com/gorse-io/retail/model/cf"
	"github.com/gorse-io/retail/storage/blob"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const artifactHeader = "retail.MainRecommender/1"

// Marshal writes the index, the matrix, both models and the popularity ranking.
func (r *MainRecommender) Marshal(w io.Writer) error {
	if err := encoding.WriteString(w, artifactHeader); err != nil {
		return errors.Trace(err)
	}
	if err := r.index.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := r.matrix.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := r.als.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := r.ownItems.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, r.popularity); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, r.topPurchases); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unmarshal replaces the state of the recommender by an artifact written by Marshal.
// The configuration given at construction is kept.
func (r *MainRecommender) Unmarshal(reader io.Reader) error {
	header, err := encoding.ReadString(reader)
	if err != nil {
		return errors.Trace(err)
	}
	if header != artifactHeader {
		return errors.NotValidf("artifact header %q", header)
	}
	index := dataset.NewIndex()
	if err = index.Unmarshal(reader); err != nil {
		return errors.Trace(err)
	}
	matrix, err := dataset.UnmarshalInteractionMatrix(reader)
	if err != nil {
		return errors.Trace(err)
	}
	nItems, nUsers := matrix.Shape()
	if nItems != index.Count(dataset.ItemSpace) || nUsers > index.Count(dataset.UserSpace) {
		return errors.NotValidf("matrix of shape (%d, %d)", nItems, nUsers)
	}
	als := cf.NewALS(nil)
	if err = als.Unmarshal(reader); err != nil {
		return errors.Trace(err)
	}
	if als.CountItems() != nItems || als.CountUsers() != nUsers {
		return errors.Trace(base.ShapeMismatchf("als of shape (%d, %d) but matrix (%d, %d)",
			als.CountItems(), als.CountUsers(), nItems, nUsers))
	}
	ownItems := cf.NewItemKNN(nil)
	if err = ownItems.Unmarshal(reader); err != nil {
		return errors.Trace(err)
	}
	if ownItems.CountItems() != nItems {
		return errors.Trace(base.ShapeMismatchf("item knn of %d items but matrix %d", ownItems.CountItems(), nItems))
	}
	var popularity []int64
	if err = encoding.ReadGob(reader, &popularity); err != nil {
		return errors.Trace(err)
	}
	var topPurchases map[int64][]int64
	if err = encoding.ReadGob(reader, &topPurchases); err != nil {
		return errors.Trace(err)
	}
	if topPurchases == nil {
		topPurchases = make(map[int64][]int64)
	}
	r.index = index
	r.matrix = matrix
	r.als = als
	r.ownItems = ownItems
	r.popularity = popularity
	r.topPurchases = topPurchases
	return nil
}

// Save writes the recommender to a blob store.
func (r *MainRecommender) Save(ctx context.Context, store blob.Store, name string) error {
	ctx, span := tracer.Start(ctx, "MainRecommender.Save")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))
	err := blob.Write(ctx, store, name, func(w io.Writer) error {
		buf := bufio.NewWriter(w)
		if err := r.Marshal(buf); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(buf.Flush())
	})
	if err != nil {
		span.RecordError(err)
		return errors.Trace(err)
	}
	log.Logger().Info("save recommender", zap.String("name", name))
	return nil
}

// Load reads a recommender from a blob store.
func (r *MainRecommender) Load(ctx context.Context, store blob.Store, name string) error {
	ctx, span := tracer.Start(ctx, "MainRecommender.Load")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))
	err := blob.Read(ctx, store, name, func(reader io.Reader) error {
		return r.Unmarshal(bufio.NewReader(reader))
	})
	if err != nil {
		span.RecordError(err)
		return errors.Trace(err)
	}
	log.Logger().Info("load recommender", zap.String("name", name),
		zap.Int("n_items", r.matrix.CountItems()),
		zap.Int("n_users", r.matrix.CountUsers()))
	return nil
}
