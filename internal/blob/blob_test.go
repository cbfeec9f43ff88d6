package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ref, err := s.Put(ctx, "cases/c/i/a.pdf", strings.NewReader("hello"), 5, "application/pdf")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := s.Open(ctx, ref)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Errorf("got %q", data)
	}

	if _, err := s.Put(ctx, "cases/c/i/a.pdf", strings.NewReader("again"), 5, ""); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}

	if err := s.Delete(ctx, ref); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Errorf("deleting a missing blob must succeed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
}

func TestKeysAreUnique(t *testing.T) {
	a := CaseFileKey("c", "i", "same.pdf")
	b := CaseFileKey("c", "i", "same.pdf")
	if a == b {
		t.Fatal("keys for duplicate names must differ")
	}
	if !strings.HasPrefix(a, "cases/c/i/") || !strings.HasSuffix(a, "-same.pdf") {
		t.Errorf("unexpected key layout %q", a)
	}
	if k := ClaimFileKey("d", "pop.pdf"); !strings.HasPrefix(k, "claims/d/") {
		t.Errorf("unexpected claim key %q", k)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		`C:\docs\slip v2.docx`:  "slip_v2.docx",
		"  ":                    "file",
		"..":                    "file",
		"façade (final).xlsx":   "fa_ade__final_.xlsx",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitRef(t *testing.T) {
	bucket, key, err := splitRef("gs://docs/cases/a/b.pdf", gcsScheme)
	if err != nil || bucket != "docs" || key != "cases/a/b.pdf" {
		t.Errorf("unexpected split %q %q %v", bucket, key, err)
	}
	if _, _, err := splitRef("s3://docs/x", gcsScheme); err == nil {
		t.Error("expected scheme mismatch error")
	}
	if _, _, err := splitRef("gs://docs", gcsScheme); err == nil {
		t.Error("expected malformed reference error")
	}
}
