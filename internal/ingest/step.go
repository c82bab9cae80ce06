// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package ingest

import "fmt"

// Step is one state of an ingestion job.
type Step uint8

const (
	StepReceived Step = iota
	StepValidating
	StepConverting
	StepThumbnail
	StepMetadata
	StepRegistering
	StepComplete
	StepError
)

var stepNames = [...]string{
	StepReceived:    "received",
	StepValidating:  "validating",
	StepConverting:  "converting",
	StepThumbnail:   "thumbnail",
	StepMetadata:    "metadata",
	StepRegistering: "registering",
	StepComplete:    "complete",
	StepError:       "error",
}

func (s Step) String() string {
	if int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("step(%d)", uint8(s))
}

// Terminal reports whether no transition leaves s.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepError
}

// Next is the only state reachable from s on success. Terminal states
// return themselves.
func (s Step) Next() Step {
	if s.Terminal() {
		return s
	}
	return s + 1
}

// ParseStep maps a status step name back to its Step.
func ParseStep(name string) (Step, bool) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), true
		}
	}
	return 0, false
}
