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

package candidates

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gorse-io/retail/base"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// WriteCSV writes candidate lists as rows of user_id and space separated candidates.
func WriteCSV(w io.Writer, lists []CandidateList) error {
	buf := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(buf, "user_id,candidates"); err != nil {
		return errors.Trace(err)
	}
	for _, list := range lists {
		items := strings.Join(lo.Map(list.Items, func(itemId int64, _ int) string {
			return strconv.FormatInt(itemId, 10)
		}), " ")
		if _, err := fmt.Fprintf(buf, "%d,%s\n", list.UserId, items); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(buf.Flush())
}

// ReadCSV reads candidate lists written by WriteCSV. All lists must have the same width.
func ReadCSV(r io.Reader) ([]CandidateList, error) {
	var (
		lists    []CandidateList
		userCol  int
		itemsCol int
		parseErr error
	)
	err := base.ReadLines(bufio.NewScanner(r), ",", func(line int, fields []string) bool {
		if line == 0 {
			cols, err := base.ColumnIndex(fields, "user_id", "candidates")
			if err != nil {
				parseErr = err
				return false
			}
			userCol, itemsCol = cols[0], cols[1]
			return true
		}
		if len(fields) <= max(userCol, itemsCol) {
			parseErr = errors.NotValidf("line %d", line)
			return false
		}
		var list CandidateList
		if list.UserId, parseErr = base.ParseRawId(fields[userCol]); parseErr != nil {
			return false
		}
		for _, field := range strings.Fields(fields[itemsCol]) {
			itemId, err := base.ParseRawId(field)
			if err != nil {
				parseErr = err
				return false
			}
			list.Items = append(list.Items, itemId)
		}
		if len(lists) > 0 && len(list.Items) != len(lists[0].Items) {
			parseErr = errors.NotValidf("%d candidates at line %d, expected %d", len(list.Items), line, len(lists[0].Items))
			return false
		}
		lists = append(lists, list)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if parseErr != nil {
		return nil, errors.Trace(parseErr)
	}
	return lists, nil
}
