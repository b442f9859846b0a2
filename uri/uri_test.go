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

package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenario6PathDecode 对应 spec.md §8 场景 6
func TestScenario6PathDecode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CaseFold = true
	cfg.CompressSeparators = true
	cfg.BackslashAsSeparator = true
	cfg.DecodeEncodedSeparators = true
	cfg.PercentPolicy = ProcessInvalid
	cfg.UnwantedStatus = 0

	out, res := Decode([]byte(`/One\two///ThRee%2ffive%5csix/se%xxven`), cfg)
	assert.Equal(t, "/one/two/three/five/six/se?ven", string(out))
	assert.NotZero(t, res.Flags&FlagInvalidEncoding)
	assert.Equal(t, 0, res.DemandedStatus)
}

func TestPercentDecodeBasic(t *testing.T) {
	cfg := DefaultConfig()
	out, res := Decode([]byte("/a%20b"), cfg)
	assert.Equal(t, "/a b", string(out))
	assert.Zero(t, res.Flags)
}

func TestPercentDecodePreservePolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PercentPolicy = PreservePercent
	out, res := Decode([]byte("/a%zzb"), cfg)
	assert.Equal(t, "/a%zzb", string(out))
	assert.NotZero(t, res.Flags&FlagInvalidEncoding)
}

func TestPercentDecodeRemovePolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PercentPolicy = RemovePercent
	out, _ := Decode([]byte("/a%zzb"), cfg)
	assert.Equal(t, "/azzb", string(out))
}

func TestPercentDecodeProcessInvalidPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PercentPolicy = ProcessInvalid
	out, _ := Decode([]byte("/a%zzb"), cfg)
	assert.Equal(t, "/a?b", string(out))
}

func TestUPercentFullwidthFolding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UPercentEnabled = true
	// %uFF41 is fullwidth 'a' (U+FF41 - 0xFEE0 = 0x61 = 'a')
	out, res := Decode([]byte("/%uFF41bc"), cfg)
	assert.Equal(t, "/abc", string(out))
	assert.NotZero(t, res.Flags&FlagHalfFullRange)
	assert.NotZero(t, res.Flags&FlagOverlongU)
}

func TestUPercentBestFitMiss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UPercentEnabled = true
	cfg.BestFit = BestFitTable{} // empty: everything misses
	out, _ := Decode([]byte("/%u0041"), cfg)
	assert.Equal(t, "/?", string(out))
}

func TestEncodedSeparatorKeptWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecodeEncodedSeparators = true
	cfg.CompressSeparators = true
	out, res := Decode([]byte("/a%2f%2fb"), cfg)
	assert.Equal(t, "/a/b", string(out))
	assert.NotZero(t, res.Flags&FlagEncodedSeparator)
}

func TestEncodedSeparatorTreatedAsDataWhenNotConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecodeEncodedSeparators = false
	out, res := Decode([]byte("/a%2fb"), cfg)
	assert.Equal(t, "/a/b", string(out), "the decoded byte is still '/' literally, just not flagged as a separator")
	assert.Zero(t, res.Flags&FlagEncodedSeparator)
}

func TestRawVsEncodedNulPolicyDiffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RawNulPolicy = NulTerminate
	cfg.EncodedNulPolicy = NulLeave
	cfg.PercentPolicy = PreservePercent

	// raw NUL terminates
	out, res := Decode([]byte("/abc\x00def"), cfg)
	assert.Equal(t, "/abc", string(out))
	assert.NotZero(t, res.Flags&FlagPathTruncatedNul)

	// encoded NUL (%00) is left in place, not terminated
	out2, res2 := Decode([]byte("/abc%00def"), cfg)
	assert.Equal(t, "/abc\x00def", string(out2))
	assert.Zero(t, res2.Flags&FlagPathTruncatedNul)
}

func TestControlCharDemandsStatus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ControlCharPolicy = ControlStatus400
	_, res := Decode([]byte("/a\x01b"), cfg)
	assert.Equal(t, 400, res.DemandedStatus)
}

func TestOutputNeverExceedsInputLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UPercentEnabled = true
	cfg.PercentPolicy = PreservePercent
	cfg.UPercentPolicy = PreservePercent
	inputs := []string{
		"/a%2b%u1234%zzxyz",
		"/%%%%",
		"",
		"/one/two/three",
	}
	for _, in := range inputs {
		out, _ := Decode([]byte(in), cfg)
		assert.LessOrEqual(t, len(out), len(in), "input %q", in)
	}
}

func TestIdempotenceOnAlreadyDecodedOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PercentPolicy = ProcessInvalid
	cfg.CaseFold = true
	cfg.CompressSeparators = true

	out1, _ := Decode([]byte("/One//Two%2FThree"), cfg)
	out2, res2 := Decode(append([]byte(nil), out1...), cfg)
	assert.Equal(t, string(out1), string(out2))
	assert.Zero(t, res2.Flags, "decoding already-decoded output a second time must set no flags")
}

func TestLoadBestFitFromWeakMap(t *testing.T) {
	table, err := LoadBestFit(map[string]any{
		"0x41": 97, // 'A' -> 'a'
		"66":   98, // decimal 66 ('B') -> 'b'
	})
	require.NoError(t, err)
	assert.Equal(t, byte('a'), table['A'])
	assert.Equal(t, byte('b'), table['B'])
}
