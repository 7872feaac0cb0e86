package crawler

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBrowser is a mock implementation of the Browser interface for testing.
type MockBrowser struct {
	mock.Mock
}

// Open is the mock implementation of the Open method.
func (m *MockBrowser) Open(ctx context.Context, url string) (*Outcome, error) {
	args := m.Called(ctx, url)
	outcome, _ := args.Get(0).(*Outcome)
	return outcome, args.Error(1)
}

// ScrollDown is the mock implementation of the ScrollDown method.
func (m *MockBrowser) ScrollDown(ctx context.Context, pixels int) error {
	return m.Called(ctx, pixels).Error(0)
}

// ScrollToBottom is the mock implementation of the ScrollToBottom method.
func (m *MockBrowser) ScrollToBottom(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// KeepScrollingDown is the mock implementation of the KeepScrollingDown method.
func (m *MockBrowser) KeepScrollingDown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// CaptureScreenshot is the mock implementation of the CaptureScreenshot method.
func (m *MockBrowser) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// CapturePageImage is the mock implementation of the CapturePageImage method.
func (m *MockBrowser) CapturePageImage(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// CapturePDF is the mock implementation of the CapturePDF method.
func (m *MockBrowser) CapturePDF(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// PageContent is the mock implementation of the PageContent method.
func (m *MockBrowser) PageContent(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// IsOriginalWindowShown is the mock implementation of the IsOriginalWindowShown method.
func (m *MockBrowser) IsOriginalWindowShown(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// MockFileStore is a mock implementation of the FileStore interface for testing.
type MockFileStore struct {
	mock.Mock
}

// GroupDir is the mock implementation of the GroupDir method.
func (m *MockFileStore) GroupDir(address Address) (string, error) {
	args := m.Called(address)
	return args.String(0), args.Error(1)
}

// SaveDownloadable is the mock implementation of the SaveDownloadable method.
func (m *MockFileStore) SaveDownloadable(ctx context.Context, address Address, outcome *Outcome) (string, ContentType, error) {
	args := m.Called(ctx, address, outcome)
	ct, _ := args.Get(1).(ContentType)
	return args.String(0), ct, args.Error(2)
}

// SaveCapture is the mock implementation of the SaveCapture method.
func (m *MockFileStore) SaveCapture(ctx context.Context, address Address, kind CaptureKind, data []byte) (string, error) {
	args := m.Called(ctx, address, kind, data)
	return args.String(0), args.Error(1)
}

// MockFTPDownloader is a mock implementation of the FTPDownloader interface for testing.
type MockFTPDownloader struct {
	mock.Mock
}

// Download is the mock implementation of the Download method.
func (m *MockFTPDownloader) Download(ctx context.Context, url string, creds *Credentials, targetDir string) (*Outcome, error) {
	args := m.Called(ctx, url, creds, targetDir)
	outcome, _ := args.Get(0).(*Outcome)
	return outcome, args.Error(1)
}

// MockAsker is a mock implementation of the Asker interface for testing.
type MockAsker struct {
	mock.Mock
}

// Ask is the mock implementation of the Ask method.
func (m *MockAsker) Ask(ctx context.Context, prompt, imagePath string) (string, error) {
	args := m.Called(ctx, prompt, imagePath)
	return args.String(0), args.Error(1)
}

// MockConfirmer is a mock implementation of the Confirmer interface for testing.
type MockConfirmer struct {
	mock.Mock
}

// Confirm is the mock implementation of the Confirm method.
func (m *MockConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	args := m.Called(ctx, prompt)
	return args.Bool(0), args.Error(1)
}
