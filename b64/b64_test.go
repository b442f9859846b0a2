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

package b64

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeAllBasic(t *testing.T) {
	assert.Equal(t, []byte("any carnal pleasure."), DecodeAll([]byte("YW55IGNhcm5hbCBwbGVhc3VyZS4=")))
	assert.Equal(t, []byte("pleasure."), DecodeAll([]byte("cGxlYXN1cmUu")))
	assert.Equal(t, []byte(""), DecodeAll([]byte("")))
}

func TestDecodeAllIgnoresPaddingAndWhitespace(t *testing.T) {
	assert.Equal(t, []byte("Man"), DecodeAll([]byte("TWFu")))
	assert.Equal(t, []byte("Ma"), DecodeAll([]byte("TWE=")))
	assert.Equal(t, []byte("Ma"), DecodeAll([]byte("TW\nE=")))
}

func TestDecodeResumesAcrossArbitrarySplits(t *testing.T) {
	full := "aGVsbG8sIHdvcmxkIQ==" // "hello, world!"
	want := DecodeAll([]byte(full))

	for split := 0; split <= len(full); split++ {
		var d Decoder
		var out []byte
		out = d.Decode([]byte(full[:split]), out)
		out = d.Decode([]byte(full[split:]), out)
		assert.Equal(t, want, out, "split at %d", split)
	}
}

func TestDecodeSingleByteAtATime(t *testing.T) {
	full := []byte("VGhlIHF1aWNrIGJyb3duIGZveA==")
	var d Decoder
	var out []byte
	for _, c := range full {
		out = d.Decode([]byte{c}, out)
	}
	assert.Equal(t, []byte("The quick brown fox"), out)
}

func TestDecodeBasicAuthCredentials(t *testing.T) {
	// "alice:s3cr3t" base64-encoded, as carried in an Authorization: Basic header
	assert.Equal(t, []byte("alice:s3cr3t"), DecodeAll([]byte("YWxpY2U6czNjcjN0")))
}
