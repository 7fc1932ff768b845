// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blobstore

import "errors"

// NotFound is the error returned when a key has no blob.
type NotFound struct {
	Key string
}

func (nf NotFound) Error() string {
	return nf.Key + " not found"
}

// IsNotFoundError reports whether err is a NotFound.
func IsNotFoundError(err error) bool {
	var nf NotFound
	return errors.As(err, &nf)
}

// CheckAndPutError is returned by CheckAndPut when the current version does
// not match the expected version.
type CheckAndPutError struct {
	Key             string
	ExpectedVersion string
	ActualVersion   string
}

func (cpe CheckAndPutError) Error() string {
	return "CheckAndPut failed for " + cpe.Key +
		" (expected version " + cpe.ExpectedVersion + ", found " + cpe.ActualVersion + ")"
}

// IsCheckAndPutError reports whether err is a CheckAndPutError.
func IsCheckAndPutError(err error) bool {
	var cpe CheckAndPutError
	return errors.As(err, &cpe)
}
