package symbolmeta

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestNextMidnight
func TestNextMidnight(t *testing.T) {
	now := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), NextMidnight(now))

	midnight := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), NextMidnight(midnight))

	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), NextMidnight(time.Date(2025, 3, 1, 18, 0, 0, 0, est)))
}

// go test -v --run TestRefresherRunsAtStartAndStops
func TestRefresherRunsAtStartAndStops(t *testing.T) {
	var runs atomic.Int32
	m := &MidnightRefresher{
		Logger: zap.NewNop(),
		Refresh: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("backend down")
		},
	}

	m.Start(context.Background())
	m.Start(context.Background()) // no-op
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
	assert.Equal(t, int32(1), runs.Load())
}
