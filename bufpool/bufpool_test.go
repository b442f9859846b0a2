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

package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	b := Acquire()
	assert.Equal(t, 0, b.Len())
	b.WriteString("GET / HTTP/1.1\r\n")
	assert.Equal(t, "GET / HTTP/1.1\r\n", b.String())
	Release(b)

	b2 := Acquire()
	assert.Equal(t, 0, b2.Len(), "a released buffer must come back empty or be a fresh one")
	Release(b2)
}
