// Copyright 2021 FerretDB Inc.
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

// Package state stores dbtx process state.
package state

import (
	"time"

	"github.com/AlekSi/pointer"
	"github.com/google/uuid"

	"github.com/FerretDB/dbtx/internal/util/must"
)

// State represents dbtx process state.
//
//nolint:vet // for readability
type State struct {
	UUID  string    `json:"uuid"`
	Start time.Time `json:"-"`

	// information about the database backend
	Backend        string `json:"-"`
	BackendVersion string `json:"-"`

	// last successful recovery of prepared distributed transactions
	LastRecovery *time.Time `json:"last_recovery,omitempty"`
}

// LastRecoveryTime returns the time of the last recovery, or zero time.
func (s *State) LastRecoveryTime() time.Time {
	return pointer.GetTime(s.LastRecovery)
}

// fill replaces all unset or invalid values with default.
func (s *State) fill() {
	if _, err := uuid.Parse(s.UUID); err != nil {
		s.UUID = must.NotFail(uuid.NewRandom()).String()
	}

	if s.Start.IsZero() {
		s.Start = time.Now()
	}
}

// deepCopy returns a deep copy.
func (s *State) deepCopy() *State {
	var lastRecovery *time.Time
	if s.LastRecovery != nil {
		lastRecovery = pointer.ToTime(*s.LastRecovery)
	}

	return &State{
		UUID:           s.UUID,
		Start:          s.Start,
		Backend:        s.Backend,
		BackendVersion: s.BackendVersion,
		LastRecovery:   lastRecovery,
	}
}
