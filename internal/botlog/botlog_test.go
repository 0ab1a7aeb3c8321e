package botlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailMissingFile(t *testing.T) {
	l := New(t.TempDir(), 1)
	lines, err := l.Tail(50)
	require.NoError(t, err)
	assert.Empty(t, lines, "a bot that never ran has an empty log")
}

func TestWriteAndTail(t *testing.T) {
	l := New(t.TempDir(), 2)
	for i := 1; i <= 5; i++ {
		l.Info(CategoryStrategy, "tick %d", i)
	}
	l.Error("boom")

	lines, err := l.Tail(3)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[STRATEGY] tick 4")
	assert.Contains(t, lines[1], "[STRATEGY] tick 5")
	assert.Contains(t, lines[2], "[ERROR] boom")

	all, err := l.Tail(100)
	require.NoError(t, err)
	assert.Len(t, all, 6, "asking for more lines than exist returns them all")
}

func TestLineFormat(t *testing.T) {
	l := New(t.TempDir(), 3)
	l.Info(CategoryTrade, "BUY %.2f", 1.5)
	lines, err := l.Tail(1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \[INFO\] \[TRADE\] BUY 1\.50$`, lines[0])
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 4)
	l.Info(CategoryPosition, "opened")
	require.NoError(t, l.Remove())

	lines, err := l.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.NoError(t, l.Remove(), "removing twice is fine")
}

func TestTailZero(t *testing.T) {
	l := New(t.TempDir(), 5)
	l.Info(CategoryNews, "something")
	lines, err := l.Tail(0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
