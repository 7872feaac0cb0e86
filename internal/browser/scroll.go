package browser

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	scrollStep       = 500
	jumpThreshold    = 3000
	scrollMetricsJS  = `[window.scrollY, window.innerHeight, document.documentElement.scrollHeight]`
	scrollByJSFormat = `window.scrollBy(0, %d)`
)

// scroller is the part of the page the scrolling logic needs.
type scroller interface {
	metrics(ctx context.Context) (scrollMetrics, error)
	scrollBy(ctx context.Context, pixels int) error
}

type scrollMetrics struct {
	position float64
	window   float64
	height   float64
}

// canScrollDown compares the bottom of the viewport with the document
// height, rounding the viewport up and the height down.
func (m scrollMetrics) canScrollDown() bool {
	return math.Ceil(m.position)+math.Ceil(m.window) < math.Floor(m.height)
}

type pageScroller struct {
	b *Browser
}

func (p pageScroller) metrics(ctx context.Context) (scrollMetrics, error) {
	var values []float64
	if err := p.b.run(ctx, chromedp.Evaluate(scrollMetricsJS, &values)); err != nil {
		return scrollMetrics{}, fmt.Errorf("read scroll position: %w", err)
	}
	if len(values) != 3 {
		return scrollMetrics{}, fmt.Errorf("read scroll position: got %d values", len(values))
	}
	return scrollMetrics{position: values[0], window: values[1], height: values[2]}, nil
}

func (p pageScroller) scrollBy(ctx context.Context, pixels int) error {
	if err := p.b.run(ctx, chromedp.Evaluate(fmt.Sprintf(scrollByJSFormat, pixels), nil)); err != nil {
		return fmt.Errorf("scroll by %d: %w", pixels, err)
	}
	return nil
}

// ScrollDown scrolls by pixels when the page is not already at the bottom.
func (b *Browser) ScrollDown(ctx context.Context, pixels int) error {
	_, err := b.scrollDown(ctx, pageScroller{b: b}, pixels)
	return err
}

func (b *Browser) scrollDown(ctx context.Context, s scroller, pixels int) (bool, error) {
	m, err := s.metrics(ctx)
	if err != nil {
		return false, err
	}
	if !m.canScrollDown() {
		return false, nil
	}
	return true, s.scrollBy(ctx, pixels)
}

// ScrollToBottom jumps by the document height when the page is long and
// then keeps scrolling so lazily loaded content gets a chance to appear.
func (b *Browser) ScrollToBottom(ctx context.Context) error {
	return b.scrollToBottom(ctx, pageScroller{b: b})
}

func (b *Browser) scrollToBottom(ctx context.Context, s scroller) error {
	m, err := s.metrics(ctx)
	if err != nil {
		return err
	}
	if !m.canScrollDown() {
		return nil
	}
	if height := int(math.Floor(m.height)); height > jumpThreshold {
		if err := s.scrollBy(ctx, height); err != nil {
			return err
		}
		if err := b.sleep(ctx, b.aSecond()); err != nil {
			return err
		}
		b.logger.Debug("jumped to bottom, scrolling further")
	}
	return b.keepScrollingDown(ctx, s)
}

// KeepScrollingDown scrolls in small steps with short random pauses until
// the bottom is reached or the step limit runs out.
func (b *Browser) KeepScrollingDown(ctx context.Context) error {
	return b.keepScrollingDown(ctx, pageScroller{b: b})
}

func (b *Browser) keepScrollingDown(ctx context.Context, s scroller) error {
	for i := 0; i < b.cfg.ScrollStepsLimit; i++ {
		m, err := s.metrics(ctx)
		if err != nil {
			return err
		}
		if !m.canScrollDown() {
			// The page may still be loading more content.
			if err := b.sleep(ctx, b.aFewSeconds()); err != nil {
				return err
			}
			if m, err = s.metrics(ctx); err != nil {
				return err
			}
			if !m.canScrollDown() {
				b.logger.Debug("reached page bottom", zap.Int("steps", i))
				return nil
			}
		}
		if err := s.scrollBy(ctx, scrollStep); err != nil {
			return err
		}
		pause := b.splitSecond()
		if i%3 == 0 {
			pause = b.aSecond()
		}
		if err := b.sleep(ctx, pause); err != nil {
			return err
		}
	}
	b.logger.Debug("reached limit of scrolls", zap.Int("steps", b.cfg.ScrollStepsLimit))
	return nil
}

func (b *Browser) between(lo, hi time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lo + time.Duration(b.rnd.Int63n(int64(hi-lo)+1))
}

func (b *Browser) splitSecond() time.Duration { return b.between(50*time.Millisecond, 500*time.Millisecond) }

func (b *Browser) aSecond() time.Duration { return b.between(time.Second, 2*time.Second) }

func (b *Browser) aFewSeconds() time.Duration { return b.between(4*time.Second, 12*time.Second) }
