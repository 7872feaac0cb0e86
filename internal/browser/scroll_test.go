package browser

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePage simulates a document that may grow as it is scrolled.
type fakePage struct {
	position float64
	window   float64
	height   float64
	// grow is added to height during the first long pause.
	grow      float64
	scrolls   []int
	failAfter int
}

func (p *fakePage) metrics(context.Context) (scrollMetrics, error) {
	return scrollMetrics{position: p.position, window: p.window, height: p.height}, nil
}

func (p *fakePage) scrollBy(_ context.Context, pixels int) error {
	if p.failAfter > 0 && len(p.scrolls) >= p.failAfter {
		return errors.New("target closed")
	}
	p.scrolls = append(p.scrolls, pixels)
	p.position += float64(pixels)
	if limit := p.height - p.window; p.position > limit {
		p.position = limit
	}
	return nil
}

type sleepRecorder struct {
	calls []time.Duration
	page  *fakePage
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	if s.page != nil && s.page.grow > 0 && d >= 4*time.Second {
		s.page.height += s.page.grow
		s.page.grow = 0
	}
	return nil
}

func newTestBrowser(steps int) (*Browser, *sleepRecorder) {
	b := New(Config{ScrollStepsLimit: steps}, zap.NewNop())
	rec := &sleepRecorder{}
	b.sleep = rec.sleep
	b.rnd = rand.New(rand.NewSource(1))
	return b, rec
}

func TestCanScrollDown(t *testing.T) {
	t.Parallel()

	assert.True(t, scrollMetrics{position: 0, window: 800, height: 2000}.canScrollDown())
	assert.False(t, scrollMetrics{position: 1200, window: 800, height: 2000}.canScrollDown())
	// Fractional positions at the bottom must not report more room.
	assert.False(t, scrollMetrics{position: 1199.4, window: 800, height: 2000.6}.canScrollDown())
	assert.False(t, scrollMetrics{position: 0, window: 800, height: 600}.canScrollDown())
}

func TestScrollDownStopsAtBottom(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrowser(10)
	p := &fakePage{window: 800, height: 1000}

	scrolled, err := b.scrollDown(context.Background(), p, 150)
	require.NoError(t, err)
	assert.True(t, scrolled)

	scrolled, err = b.scrollDown(context.Background(), p, 150)
	require.NoError(t, err)
	assert.True(t, scrolled)
	assert.Equal(t, []int{150, 150}, p.scrolls)
	assert.InDelta(t, 200, p.position, 0.01)

	scrolled, err = b.scrollDown(context.Background(), p, 150)
	require.NoError(t, err)
	assert.False(t, scrolled)
	assert.Len(t, p.scrolls, 2)
}

func TestKeepScrollingDownHonorsStepLimit(t *testing.T) {
	t.Parallel()

	b, rec := newTestBrowser(4)
	p := &fakePage{window: 800, height: 100000}

	require.NoError(t, b.keepScrollingDown(context.Background(), p))
	assert.Equal(t, []int{500, 500, 500, 500}, p.scrolls)
	require.Len(t, rec.calls, 4)
	for i, d := range rec.calls {
		if i%3 == 0 {
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, 2*time.Second)
			continue
		}
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

func TestKeepScrollingDownWaitsForLazyContent(t *testing.T) {
	t.Parallel()

	b, rec := newTestBrowser(20)
	p := &fakePage{window: 800, height: 1300, grow: 1000}
	rec.page = p

	require.NoError(t, b.keepScrollingDown(context.Background(), p))
	assert.Equal(t, 2300.0, p.height)
	assert.InDelta(t, 1500, p.position, 0.01)

	longPauses := 0
	for _, d := range rec.calls {
		if d >= 4*time.Second {
			assert.LessOrEqual(t, d, 12*time.Second)
			longPauses++
		}
	}
	// Once when the first bottom was reached and once at the final bottom.
	assert.Equal(t, 2, longPauses)
}

func TestKeepScrollingDownPropagatesErrors(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrowser(10)
	p := &fakePage{window: 800, height: 100000, failAfter: 2}
	err := b.keepScrollingDown(context.Background(), p)
	require.EqualError(t, err, "target closed")

	b, _ = newTestBrowser(10)
	b.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	err = b.keepScrollingDown(context.Background(), &fakePage{window: 800, height: 100000})
	require.ErrorIs(t, err, context.Canceled)
}

func TestScrollToBottomJumpsOnLongPages(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrowser(3)
	p := &fakePage{window: 800, height: 5000}
	require.NoError(t, b.scrollToBottom(context.Background(), p))
	require.NotEmpty(t, p.scrolls)
	assert.Equal(t, 5000, p.scrolls[0])
	assert.InDelta(t, 4200, p.position, 0.01)

	b, _ = newTestBrowser(3)
	short := &fakePage{window: 800, height: 2500}
	require.NoError(t, b.scrollToBottom(context.Background(), short))
	require.NotEmpty(t, short.scrolls)
	assert.Equal(t, scrollStep, short.scrolls[0])

	b, rec := newTestBrowser(3)
	fits := &fakePage{window: 800, height: 700}
	require.NoError(t, b.scrollToBottom(context.Background(), fits))
	assert.Empty(t, fits.scrolls)
	assert.Empty(t, rec.calls)
}

func TestBetweenStaysInRange(t *testing.T) {
	t.Parallel()

	b, _ := newTestBrowser(1)
	for i := 0; i < 200; i++ {
		d := b.between(time.Second, 2*time.Second)
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 2*time.Second)
	}
	assert.Equal(t, time.Second, b.between(time.Second, time.Second))
}

func TestSleepContextCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
