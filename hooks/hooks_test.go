// Copyright 2025 The packetd Authors
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

package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAllStopsOnError(t *testing.T) {
	var ran []int
	r := New[int]()
	r.Register(func(n int) Result { ran = append(ran, n); return OK })
	r.Register(func(n int) Result { ran = append(ran, n); return Error })
	r.Register(func(n int) Result { ran = append(ran, n); return OK })

	assert.Equal(t, Error, r.RunAll(7))
	assert.Equal(t, []int{7, 7}, ran, "third callback must not run after the second returns Error")
}

func TestRunAllNilRegistryIsOK(t *testing.T) {
	var r *Registry[string]
	assert.Equal(t, OK, r.RunAll("x"))
}

func TestRunOneFirstNonDeclinedWins(t *testing.T) {
	var ran []string
	r := New[string]()
	r.Register(func(s string) Result { ran = append(ran, "a"); return Declined })
	r.Register(func(s string) Result { ran = append(ran, "b"); return OK })
	r.Register(func(s string) Result { ran = append(ran, "c"); return OK })

	assert.Equal(t, OK, r.RunOne("v"))
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestRunOneAllDeclinedReturnsDeclined(t *testing.T) {
	r := New[int]()
	r.Register(func(int) Result { return Declined })
	r.Register(func(int) Result { return Declined })
	assert.Equal(t, Declined, r.RunOne(1))
}

func TestRunOneEmptyRegistryIsDeclined(t *testing.T) {
	r := New[int]()
	assert.Equal(t, Declined, r.RunOne(1))

	var nilReg *Registry[int]
	assert.Equal(t, Declined, nilReg.RunOne(1))
}

func TestCloneIsIndependentSlice(t *testing.T) {
	r := New[int]()
	r.Register(func(int) Result { return OK })

	clone := r.Clone()
	clone.Register(func(int) Result { return Error })

	assert.Equal(t, 1, r.Len(), "registering on the clone must not affect the original")
	assert.Equal(t, 2, clone.Len())
}

func TestCloneOfNilIsNil(t *testing.T) {
	var r *Registry[int]
	assert.Nil(t, r.Clone())
}
