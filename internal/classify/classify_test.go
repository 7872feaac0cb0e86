package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

func TestClassifyPDFWithoutDisposition(t *testing.T) {
	t.Parallel()

	d := Classify("application/pdf", "", "https://ex.com/reports/annual/")
	assert.Equal(t, crawler.OutcomeDownloadableContent, d.Status)
	assert.Equal(t, "https___ex_com_reports_annual.pdf", d.FileName)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		disposition string
		wantStatus  crawler.OutcomeStatus
		wantName    string
	}{
		{name: "html", contentType: "text/html; charset=utf-8", wantStatus: crawler.OutcomeOk},
		{name: "no content type", wantStatus: crawler.OutcomeOk},
		{name: "image", contentType: "image/png", wantStatus: crawler.OutcomeDownloadableContent, wantName: "https___ex_com_f.png"},
		{name: "json", contentType: "Application/JSON; charset=utf-8", wantStatus: crawler.OutcomeDownloadableContent, wantName: "https___ex_com_f.json"},
		{name: "zip", contentType: "application/zip", wantStatus: crawler.OutcomeDownloadableContent, wantName: "https___ex_com_f.zip"},
		{name: "attachment filename wins", contentType: "application/pdf", disposition: `attachment; filename="report 2024.pdf"`, wantStatus: crawler.OutcomeDownloadableContent, wantName: "report 2024.pdf"},
		{name: "attachment without filename", contentType: "application/octet-stream", disposition: "attachment", wantStatus: crawler.OutcomeDownloadableContent, wantName: "https___ex_com_f.bin"},
		{name: "malformed disposition", contentType: "text/html", disposition: `attachment; filename=data.csv; =broken`, wantStatus: crawler.OutcomeDownloadableContent, wantName: "data.csv"},
		{name: "inline html", contentType: "text/html", disposition: "inline", wantStatus: crawler.OutcomeOk},
		{name: "unknown", contentType: "application/x-shockwave-flash", wantStatus: crawler.OutcomeUnsupportedContentType},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := Classify(tc.contentType, tc.disposition, "https://ex.com/f")
			assert.Equal(t, tc.wantStatus, d.Status)
			assert.Equal(t, tc.wantName, d.FileName)
		})
	}
}

func TestClassifyUnknownCarriesMessage(t *testing.T) {
	t.Parallel()

	d := Classify("video/mp4", "", "https://ex.com/movie")
	require.Equal(t, crawler.OutcomeUnsupportedContentType, d.Status)
	assert.Equal(t, "Unknown content type: video/mp4", d.ErrorMessage)

	outcome := &crawler.Outcome{Status: crawler.OutcomeOk}
	d.Apply(outcome)
	assert.Equal(t, crawler.OutcomeUnsupportedContentType, outcome.Status)
	assert.Equal(t, "Unknown content type: video/mp4", outcome.ErrorMessage)
}

func TestReadBody(t *testing.T) {
	t.Parallel()

	text := &crawler.Outcome{Status: crawler.OutcomeDownloadableContent}
	ReadBody(text, func() ([]byte, error) { return []byte("plain text"), nil })
	assert.Equal(t, crawler.TextContent("plain text"), text.Content)

	binary := &crawler.Outcome{Status: crawler.OutcomeDownloadableContent}
	ReadBody(binary, func() ([]byte, error) { return []byte{0xff, 0xfe, 0x00}, nil })
	assert.Equal(t, crawler.BinaryContent([]byte{0xff, 0xfe, 0x00}), binary.Content)

	failed := &crawler.Outcome{Status: crawler.OutcomeDownloadableContent}
	ReadBody(failed, func() ([]byte, error) { return nil, errors.New("gone") })
	assert.Equal(t, crawler.OutcomeUnsupportedContentType, failed.Status)
	assert.Nil(t, failed.Content)
	assert.NotEmpty(t, failed.ErrorMessage)
}


func TestScreener(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	asker := &crawler.MockAsker{}
	asker.On("Ask", ctx, ScreeningPrompt, "/tmp/blocked.png").Return(" Blocked.\n", nil).Once()
	asker.On("Ask", ctx, ScreeningPrompt, "/tmp/weird.png").Return("Maybe", nil).Once()
	asker.On("Ask", ctx, ScreeningPrompt, "/tmp/down.png").Return("", errors.New("connection refused")).Once()

	s := NewScreener(asker, nil)

	got, ok := s.Screen(ctx, "/tmp/blocked.png")
	require.True(t, ok)
	assert.Equal(t, VerdictBlocked, got.Verdict)

	got, ok = s.Screen(ctx, "/tmp/weird.png")
	require.True(t, ok)
	assert.Equal(t, VerdictUnrecognized, got.Verdict)
	assert.Equal(t, "maybe", got.Answer)

	_, ok = s.Screen(ctx, "/tmp/down.png")
	assert.False(t, ok)
	asker.AssertExpectations(t)

	var disabled *Screener
	_, ok = disabled.Screen(ctx, "/tmp/x.png")
	assert.False(t, ok)
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	assert.Equal(t, VerdictOK, ParseVerdict("OK").Verdict)
	assert.Equal(t, VerdictError, ParseVerdict("'error'").Verdict)
	assert.Equal(t, "blocked", VerdictBlocked.String())
}
