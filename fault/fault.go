// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fault holds the error categories shared by the swapvisor
// components.  Components wrap one of these sentinels, so that callers
// can classify a failure with errors.Is without caring which component
// produced it.
package fault

import (
	"errors"
)

var (
	ErrCommandNotFound     = errors.New("Required command not found")
	ErrCommandTimeout      = errors.New("Command timed out")
	ErrCommandFailed       = errors.New("Command failed")
	ErrResourceUnavailable = errors.New("Resource unavailable")
	ErrNotFound            = errors.New("Not found")
	ErrPermissionDenied    = errors.New("Permission denied")
	ErrUnexpected          = errors.New("Unexpected error")
)

// Kind names the category of an error, for reporting.  Errors that match
// none of the categories are reported as "Unexpected".  A nil error
// has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCommandNotFound):
		return "CommandNotFound"
	case errors.Is(err, ErrCommandTimeout):
		return "CommandTimeout"
	// Permission is checked before the generic command failure, as a
	// failed command may also carry a permission problem.
	case errors.Is(err, ErrPermissionDenied):
		return "PermissionDenied"
	case errors.Is(err, ErrCommandFailed):
		return "CommandFailed"
	case errors.Is(err, ErrResourceUnavailable):
		return "ResourceUnavailable"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	}
	return "Unexpected"
}

// IsTransient reports whether a later retry of the same operation could
// plausibly succeed without operator intervention.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrCommandNotFound),
		errors.Is(err, ErrPermissionDenied):
		return false
	}
	return err != nil
}
