// Copyright 2025 gorse Project Authors
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
	"fmt"

	"github.com/juju/errors"
)

// Error kinds shared by the candidate generation core. Lookups that miss use
// errors.NotFound and malformed arguments use errors.NotValid.
const (
	// ErrColdStart means a model has no fitted signal for the queried entity.
	ErrColdStart = errors.ConstError("cold start")
	// ErrMissingReference means labels were requested without ground-truth purchases.
	ErrMissingReference = errors.ConstError("missing reference data")
	// ErrShapeMismatch means the interaction matrix disagrees with the id index.
	ErrShapeMismatch = errors.ConstError("shape mismatch")
)

// ColdStartf returns an error of kind ErrColdStart.
func ColdStartf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrColdStart)
}

// MissingReferencef returns an error of kind ErrMissingReference.
func MissingReferencef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrMissingReference)
}

// ShapeMismatchf returns an error of kind ErrShapeMismatch.
func ShapeMismatchf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrShapeMismatch)
}

// ValidateN checks the width of a recommendation request.
func ValidateN(n int) error {
	if n <= 0 {
		return errors.NotValidf("number of recommendations %d", n)
	}
	return nil
}
