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

package dslib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrayListPushPop(t *testing.T) {
	l := NewArrayList[int](2)
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)
	l.PushFront(0)
	assert.Equal(t, 4, l.Len())

	v, ok := l.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0, v)

	v, ok = l.PopBack()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = l.PopFront()
	require.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestArrayListIteratorInvalidationIsManual(t *testing.T) {
	l := NewArrayList[string](4)
	l.PushBack("a")
	l.PushBack("b")
	l.ResetIterator()
	v, ok := l.Next()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	l.PushBack("c")
	l.ResetIterator()
	var got []string
	for {
		v, ok := l.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestLinkedListQueueWorkload(t *testing.T) {
	l := NewLinkedList[int]()
	l.PushBack(1)
	l.PushBack(2)
	v, ok := l.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, l.Len())
}

func TestTableInsertionOrderAndCaseFold(t *testing.T) {
	tbl := NewTable[string](4)
	tbl.Add([]byte("Host"), "example.com")
	tbl.Add([]byte("Accept"), "*/*")
	tbl.Add([]byte("host"), "duplicate.example.com")

	v, ok := tbl.Get([]byte("HOST"))
	require.True(t, ok)
	assert.Equal(t, "example.com", v, "Get returns the first insertion-order match")

	var keys []string
	tbl.Each(func(_ int, e Entry[string]) bool {
		keys = append(keys, string(e.Key))
		return true
	})
	assert.Equal(t, []string{"Host", "Accept", "host"}, keys)
}

func TestTableGetOrCreate(t *testing.T) {
	tbl := NewTable[[]string](4)
	idx, created := tbl.GetOrCreate([]byte("X-Forwarded-For"), func() []string { return nil })
	assert.True(t, created)

	e, ok := tbl.At(idx)
	require.True(t, ok)
	e.Value = append(e.Value, "1.1.1.1")
	tbl.Set([]byte("X-Forwarded-For"), e.Value)

	idx2, created2 := tbl.GetOrCreate([]byte("x-forwarded-for"), func() []string { return []string{"should not run"} })
	assert.False(t, created2)
	assert.Equal(t, idx, idx2)

	v, ok := tbl.Get([]byte("X-Forwarded-For"))
	require.True(t, ok)
	assert.Equal(t, []string{"1.1.1.1"}, v)
}
