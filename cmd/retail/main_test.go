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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorse-io/retail/candidates"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	assert.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`[als]
n_factors = 4
n_epochs = 3

[candidates]
num_candidates = 2

[blob]
dir = %q
`, filepath.Join(dir, "artifacts"))), 0644))

	var train strings.Builder
	train.WriteString("user_id,item_id,quantity,day\n")
	for userId := 1; userId <= 5; userId++ {
		for itemId := 10; itemId < 10+userId; itemId++ {
			fmt.Fprintf(&train, "%d,%d,1,%d\n", userId, itemId, userId)
		}
	}
	trainPath := filepath.Join(dir, "train.csv")
	assert.NoError(t, os.WriteFile(trainPath, []byte(train.String()), 0644))
	validPath := filepath.Join(dir, "valid.csv")
	assert.NoError(t, os.WriteFile(validPath, []byte("user_id,item_id\n1,10\n6,11\n"), 0644))
	itemsPath := filepath.Join(dir, "items.csv")
	assert.NoError(t, os.WriteFile(itemsPath, []byte("item_id,brand\n10,A\n11,B\n"), 0644))
	candidatesPath := filepath.Join(dir, "candidates.csv")
	labelsPath := filepath.Join(dir, "labels.csv")

	run := func(args ...string) error {
		rootCommand.SetArgs(append(args, "--config", configPath))
		return rootCommand.ExecuteContext(context.Background())
	}
	assert.NoError(t, run("fit", "--transactions", trainPath))
	assert.FileExists(t, filepath.Join(dir, "artifacts", "recommender"))
	assert.NoError(t, run("recommend", "--id", "1", "--n", "3"))
	assert.NoError(t, run("candidates", "--cohort", trainPath, "--cohort", validPath, "--output", candidatesPath))
	assert.NoError(t, run("labels", "--candidates", candidatesPath, "--reference", validPath,
		"--item-features", itemsPath, "--output", labelsPath))
	assert.NoError(t, run("evaluate", "--candidates", candidatesPath, "--reference", validPath, "--k", "2"))

	file, err := os.Open(candidatesPath)
	assert.NoError(t, err)
	defer file.Close()
	lists, err := candidates.ReadCSV(file)
	assert.NoError(t, err)
	assert.Len(t, lists, 6)

	content, err := os.ReadFile(labelsPath)
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Equal(t, "user_id,item_id,target,brand", lines[0])
	assert.Len(t, lines, 1+6*2)
	// user 6 is new and gets the two most popular items
	assert.Contains(t, lines, "6,10,0,A")
	assert.Contains(t, lines, "6,11,1,B")

	// labels without reference fail
	assert.Error(t, run("labels", "--candidates", candidatesPath, "--output", labelsPath, "--reference", ""))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	err := writeFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "user_id,item_id\n")
		return err
	})
	assert.NoError(t, err)
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "user_id,item_id\n", string(data))

	// write errors are returned
	err = writeFile(path, func(w io.Writer) error {
		return errors.New("disk full")
	})
	assert.ErrorContains(t, err, "disk full")
	// missing directory
	err = writeFile(filepath.Join(dir, "missing", "out.csv"), func(w io.Writer) error { return nil })
	assert.Error(t, err)
}
