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
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/base/log"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Transaction is a purchase of an item by a user.
type Transaction struct {
	UserId   int64
	ItemId   int64
	Quantity float64
	// Day orders transactions in time. Zero if unknown.
	Day int
}

// LoadTransactions loads transactions from a csv file with a header. Columns user_id and
// item_id are required, quantity and day are optional.
func LoadTransactions(path string) ([]Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	transactions, err := ReadTransactions(bufio.NewScanner(file), ",")
	if err != nil {
		return nil, errors.Annotatef(err, "load transactions from %s", path)
	}
	log.Logger().Info("load transactions",
		zap.String("path", path),
		zap.Int("n_transactions", len(transactions)))
	return transactions, nil
}

// ReadTransactions parses transactions from a scanner.
func ReadTransactions(sc *bufio.Scanner, sep string) ([]Transaction, error) {
	var (
		transactions []Transaction
		userCol      int
		itemCol      int
		quantityCol  = -1
		dayCol       = -1
		parseErr     error
	)
	err := base.ReadLines(sc, sep, func(line int, fields []string) bool {
		if line == 0 {
			cols, err := base.ColumnIndex(fields, "user_id", "item_id")
			if err != nil {
				parseErr = err
				return false
			}
			userCol, itemCol = cols[0], cols[1]
			if cols, err = base.ColumnIndex(fields, "quantity"); err == nil {
				quantityCol = cols[0]
			}
			if cols, err = base.ColumnIndex(fields, "day"); err == nil {
				dayCol = cols[0]
			}
			return true
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			// skip empty lines
			return true
		}
		var txn Transaction
		if txn.UserId, parseErr = parseField(fields, userCol, line); parseErr != nil {
			return false
		}
		if txn.ItemId, parseErr = parseField(fields, itemCol, line); parseErr != nil {
			return false
		}
		txn.Quantity = 1
		if quantityCol >= 0 && quantityCol < len(fields) {
			if txn.Quantity, parseErr = strconv.ParseFloat(strings.TrimSpace(fields[quantityCol]), 64); parseErr != nil {
				parseErr = errors.NotValidf("quantity %q at line %d", fields[quantityCol], line)
				return false
			}
		}
		if dayCol >= 0 && dayCol < len(fields) {
			if txn.Day, parseErr = strconv.Atoi(strings.TrimSpace(fields[dayCol])); parseErr != nil {
				parseErr = errors.NotValidf("day %q at line %d", fields[dayCol], line)
				return false
			}
		}
		transactions = append(transactions, txn)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if parseErr != nil {
		return nil, errors.Trace(parseErr)
	}
	return transactions, nil
}

func parseField(fields []string, col, line int) (int64, error) {
	if col >= len(fields) {
		return 0, errors.NotValidf("line %d has %d fields", line, len(fields))
	}
	return base.ParseRawId(fields[col])
}

// FilterByDay returns transactions with from <= Day < to.
func FilterByDay(transactions []Transaction, from, to int) []Transaction {
	return lo.Filter(transactions, func(txn Transaction, _ int) bool {
		return txn.Day >= from && txn.Day < to
	})
}

// Users returns distinct users of transactions in first-seen order.
func Users(transactions []Transaction) []int64 {
	return lo.Uniq(lo.Map(transactions, func(txn Transaction, _ int) int64 {
		return txn.UserId
	}))
}
