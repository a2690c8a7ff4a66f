package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortMessage(t *testing.T) {
	assert := assert.New(t)
	assert.Equal([]string{"Hello"}, SplitMessage("Hello", 2000))
	assert.Equal([]string{""}, SplitMessage("", 2000))
}

func TestSplitExactLimit(t *testing.T) {
	assert := assert.New(t)
	content := strings.Repeat("a", 2000)
	chunks := SplitMessage(content, 2000)
	assert.Equal([]string{content}, chunks)
}

func TestSplitUnbrokenRun(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	content := strings.Repeat("a", 3500)

	chunks := SplitMessage(content, 2000)

	require.Len(chunks, 2)
	for _, c := range chunks {
		assert.LessOrEqual(len([]rune(c)), 2000)
	}
	assert.Equal(content, strings.Join(chunks, ""))
	assert.Len(chunks[0], 2000)
	assert.Len(chunks[1], 1500)
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	first := strings.Repeat("alpha beta gamma ", 100) // ~1700 chars
	second := strings.Repeat("delta epsilon ", 60)
	content := first + "\n" + second

	chunks := SplitMessage(content, 2000)

	require.GreaterOrEqual(len(chunks), 2)
	assert.True(strings.HasSuffix(chunks[0], "\n"))
	assert.Equal(content, strings.Join(chunks, ""))
}

func TestSplitSentenceBoundary(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	content := strings.Repeat("This is a sentence. ", 150) // ~3000 chars, no newlines

	chunks := SplitMessage(content, 2000)

	require.GreaterOrEqual(len(chunks), 2)
	for i, c := range chunks[:len(chunks)-1] {
		assert.True(strings.HasSuffix(c, "."), "chunk %d should end at a sentence", i)
	}
	assert.Equal(content, strings.Join(chunks, ""))
}

func TestSplitWordBoundary(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	content := strings.TrimRight(strings.Repeat("word ", 500), " ") // no sentences

	chunks := SplitMessage(content, 2000)

	require.GreaterOrEqual(len(chunks), 2)
	for i, c := range chunks[:len(chunks)-1] {
		assert.True(strings.HasSuffix(c, " "), "chunk %d should end after a space", i)
	}
	for _, c := range chunks {
		assert.LessOrEqual(len([]rune(c)), 2000)
	}
	assert.Equal(content, strings.Join(chunks, ""))
}

func TestSplitLosslessWithUnicode(t *testing.T) {
	assert := assert.New(t)
	content := strings.Repeat("Hello 👋 world! ", 300)

	chunks := SplitMessage(content, 2000)

	assert.Equal(content, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(len([]rune(c)), 2000)
	}
	assert.Equal(strings.Count(content, "👋"), strings.Count(strings.Join(chunks, ""), "👋"))
}

func TestSplitVeryLongNeedsThreeChunks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	content := strings.Repeat("a", 5000)

	chunks := SplitMessage(content, 2000)

	require.Len(chunks, 3)
	assert.Equal(content, strings.Join(chunks, ""))
}

func TestSplitCustomLimit(t *testing.T) {
	assert := assert.New(t)
	content := strings.Repeat("a", 150)

	chunks := SplitMessage(content, 100)

	assert.Len(chunks, 2)
	for _, c := range chunks {
		assert.LessOrEqual(len(c), 100)
	}
	assert.Equal(content, strings.Join(chunks, ""))
}
