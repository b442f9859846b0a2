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

package bstr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendGrows(t *testing.T) {
	b := New(2)
	b.Append([]byte("ab"))
	b.Append([]byte("cdefgh"))
	assert.Equal(t, "abcdefgh", b.String())
}

func TestCompareTotalOrder(t *testing.T) {
	assert.Equal(t, 0, Compare(nil, nil))
	assert.Equal(t, 0, Compare([]byte(""), []byte("")))
	assert.Equal(t, -1, Compare([]byte("ab"), []byte("abc")))
	assert.Equal(t, 1, Compare([]byte("abc"), []byte("ab")))
	assert.Equal(t, -1, Compare([]byte("ABC"), []byte("abc")))
}

func TestCompareFold(t *testing.T) {
	assert.Equal(t, 0, CompareFold([]byte("Content-Type"), []byte("content-type")))
	assert.NotEqual(t, 0, CompareFold([]byte("Content-Type"), []byte("content-length")))
}

func TestIndexFold(t *testing.T) {
	assert.Equal(t, 5, IndexFold([]byte("name=VALUE"), []byte("value")))
	assert.Equal(t, -1, IndexFold([]byte("name=VALUE"), []byte("missing")))
}

func TestHasPrefixFold(t *testing.T) {
	assert.True(t, HasPrefixFold([]byte("HTTP/1.1 200 OK"), []byte("http/1.1")))
	assert.False(t, HasPrefixFold([]byte("HTTP/1.0 200 OK"), []byte("http/1.1")))
}

func TestParseUintBasic(t *testing.T) {
	v, n, err := ParseUint([]byte("1Ftrailer"), 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1F), v)
	assert.Equal(t, 2, n)
}

func TestParseUintNoDigits(t *testing.T) {
	_, _, err := ParseUint([]byte("zz"), 16)
	assert.ErrorIs(t, err, ErrNoDigits)
}

func TestParseUintOverflow(t *testing.T) {
	_, _, err := ParseUint([]byte("ffffffffffffffffff"), 16)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestLowercaseInPlace(t *testing.T) {
	b := FromBytes([]byte("MiXeD"))
	b.Lowercase()
	assert.Equal(t, "mixed", b.String())
}
