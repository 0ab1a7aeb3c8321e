package budget

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-bot-fleet/internal/store"
)

func newTestCounters(t *testing.T) *Counters {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	c, err := Load(st, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestCryptoNewsBudgetEnforced(t *testing.T) {
	c := newTestCounters(t)

	assert.True(t, c.TrySpend(ServiceCryptoNews, 3))
	assert.True(t, c.TrySpend(ServiceCryptoNews, 3))
	assert.True(t, c.TrySpend(ServiceCryptoNews, 3))
	assert.False(t, c.TrySpend(ServiceCryptoNews, 3), "fourth call must be denied")
	assert.Equal(t, 3, c.Used(ServiceCryptoNews), "denied spend must not increment")
}

func TestZeroBudgetMeansNeverCall(t *testing.T) {
	c := newTestCounters(t)
	assert.False(t, c.TrySpend(ServiceCryptoNews, 0))
	assert.Equal(t, 0, c.Used(ServiceCryptoNews))
}

func TestOpenAIUnlimitedButCounted(t *testing.T) {
	c := newTestCounters(t)
	for i := 0; i < 10; i++ {
		assert.True(t, c.TrySpend(ServiceOpenAI, 0))
	}
	assert.Equal(t, 10, c.Used(ServiceOpenAI))
}

func TestCountersSurviveRestart(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	c1, err := Load(st, zerolog.Nop())
	require.NoError(t, err)
	c1.TrySpend(ServiceCryptoNews, 3)
	c1.TrySpend(ServiceCryptoNews, 3)

	c2, err := Load(st, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, c2.Used(ServiceCryptoNews), "counters persist across process restarts")
	assert.True(t, c2.TrySpend(ServiceCryptoNews, 3))
	assert.False(t, c2.TrySpend(ServiceCryptoNews, 3))
}

func TestCountersRollOnUTCDateChange(t *testing.T) {
	c := newTestCounters(t)

	day1 := time.Date(2026, 8, 24, 23, 50, 0, 0, time.UTC)
	c.now = func() time.Time { return day1 }
	c.TrySpend(ServiceCryptoNews, 3)
	c.TrySpend(ServiceCryptoNews, 3)
	c.TrySpend(ServiceCryptoNews, 3)
	assert.False(t, c.TrySpend(ServiceCryptoNews, 3))

	// Ten minutes later it is a new UTC day and the budget is back.
	c.now = func() time.Time { return day1.Add(10 * time.Minute) }
	assert.Equal(t, 0, c.Used(ServiceCryptoNews))
	assert.True(t, c.TrySpend(ServiceCryptoNews, 3))
}
