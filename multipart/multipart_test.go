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

package multipart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBoundaryBareToken(t *testing.T) {
	b, ok := ExtractBoundary(`multipart/form-data; boundary=----WebKitFormBoundaryABC123`)
	require.True(t, ok)
	assert.Equal(t, "----WebKitFormBoundaryABC123", string(b))
}

func TestExtractBoundaryQuoted(t *testing.T) {
	b, ok := ExtractBoundary(`multipart/form-data; boundary="my boundary"`)
	require.True(t, ok)
	assert.Equal(t, "my boundary", string(b))
}

func TestExtractBoundaryMissing(t *testing.T) {
	_, ok := ExtractBoundary(`multipart/form-data`)
	assert.False(t, ok)
}

// buildBody 构造一个两段式 multipart/form-data 报文 一个文本字段一个文件字段
func buildBody(boundary string) []byte {
	s := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"field1\"\r\n\r\n" +
		"value1\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"upload\"; filename=\"a.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"hello file content\r\n" +
		"--" + boundary + "--\r\n"
	return []byte(s)
}

func TestParserTextAndFileParts(t *testing.T) {
	boundary := "BOUNDARY42"
	p := NewParser([]byte(boundary), DefaultConfig())
	body := buildBody(boundary)

	// 喂入整个报文一次性 以及再拆成任意切点两种路径都应产出相同的 part 集合
	require.NoError(t, p.Write(body))
	result := p.Finalize()

	require.Len(t, result.Parts, 2)
	assert.Equal(t, PartText, result.Parts[0].Type)
	assert.Equal(t, "field1", result.Parts[0].Name)
	assert.Equal(t, "value1", string(result.Parts[0].Data))

	assert.Equal(t, PartFile, result.Parts[1].Type)
	assert.Equal(t, "upload", result.Parts[1].Name)
	assert.Equal(t, "a.txt", result.Parts[1].FileName)
	assert.Equal(t, "hello file content", string(result.Parts[1].Data))

	assert.NotZero(t, result.Flags&FlagSeenLastBoundary)
	assert.NotZero(t, result.Flags&FlagCRLFSeen)
}

func TestParserSplitAcrossArbitraryWriteBoundaries(t *testing.T) {
	boundary := "XYZ"
	body := buildBody(boundary)

	for split := 1; split < len(body); split++ {
		p := NewParser([]byte(boundary), DefaultConfig())
		require.NoError(t, p.Write(body[:split]))
		require.NoError(t, p.Write(body[split:]))
		result := p.Finalize()
		require.Lenf(t, result.Parts, 2, "split at %d", split)
		assert.Equal(t, "value1", string(result.Parts[0].Data), "split at %d", split)
		assert.Equal(t, "hello file content", string(result.Parts[1].Data), "split at %d", split)
	}
}

func TestParserIncompleteStreamFlagsPartIncomplete(t *testing.T) {
	boundary := "BOUNDARY42"
	p := NewParser([]byte(boundary), DefaultConfig())
	body := buildBody(boundary)
	truncated := body[:len(body)-10] // cut off before the closing "--boundary--"
	require.NoError(t, p.Write(truncated))
	result := p.Finalize()
	assert.NotZero(t, result.Flags&FlagPartIncomplete)
}

func TestParserFileExtractionWritesTempFile(t *testing.T) {
	boundary := "BOUNDARY42"
	dir := t.TempDir()
	cfg := Config{ExtractFiles: true, ExtractDir: dir}
	p := NewParser([]byte(boundary), cfg)
	require.NoError(t, p.Write(buildBody(boundary)))
	result := p.Finalize()

	require.Len(t, result.Parts, 2)
	filePart := result.Parts[1]
	require.NotEmpty(t, filePart.TempFilePath)
	assert.Equal(t, int64(len("hello file content")), filePart.ByteCount)
}

func TestParseContentDispositionHandlesEscapedQuotes(t *testing.T) {
	name, filename, ok := parseContentDisposition(`form-data; name="f"; filename="a\"b.txt"`)
	require.True(t, ok)
	assert.Equal(t, "f", name)
	assert.Equal(t, `a"b.txt`, filename)
}
