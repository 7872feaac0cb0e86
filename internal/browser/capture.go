package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// CaptureScreenshot returns a PNG of the visible viewport.
func (b *Browser) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := b.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// CapturePageImage returns a PNG of the whole page.
func (b *Browser) CapturePageImage(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := b.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture page image: %w", err)
	}
	return buf, nil
}

// CapturePDF prints the page, backgrounds included.
func (b *Browser) CapturePDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("capture pdf: %w", err)
	}
	return buf, nil
}
