package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectKeepsContentType(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "ex_com/1-page.pdf", "application/pdf", bytes.NewReader([]byte("%PDF")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://ex_com/1-page.pdf" {
		t.Fatalf("unexpected uri %s", uri)
	}
	data, contentType, ok := store.Object("ex_com/1-page.pdf")
	if !ok {
		t.Fatalf("expected object to be stored")
	}
	if string(data) != "%PDF" || contentType != "application/pdf" {
		t.Fatalf("unexpected object %q (%s)", data, contentType)
	}
	data[0] = 'X'
	again, _, _ := store.Object("ex_com/1-page.pdf")
	if string(again) != "%PDF" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
}
