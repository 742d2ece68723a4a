package radio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemTimer(t *testing.T) {
	t.Run("SuspendUntil", func(t *testing.T) {
		assert := require.New(t)
		timer := NewSystemTimer()
		timer.Reset()

		assert.NoError(timer.SuspendUntil(context.Background(), 20*time.Millisecond))
		assert.True(timer.Elapsed() >= 20*time.Millisecond)
	})

	t.Run("Deadline in the past", func(t *testing.T) {
		assert := require.New(t)
		timer := NewSystemTimer()

		start := time.Now()
		assert.NoError(timer.SuspendUntil(context.Background(), -time.Second))
		assert.True(time.Since(start) < 10*time.Millisecond)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		assert := require.New(t)
		timer := NewSystemTimer()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		assert.Equal(context.Canceled, timer.SuspendFor(ctx, time.Minute))
	})

	t.Run("Reset", func(t *testing.T) {
		assert := require.New(t)
		timer := NewSystemTimer()

		time.Sleep(20 * time.Millisecond)
		timer.Reset()
		assert.True(timer.Elapsed() < 20*time.Millisecond)
	})
}
