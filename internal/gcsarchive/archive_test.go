package gcsarchive

import "testing"

func TestChecksumStable(t *testing.T) {
	a := Checksum([]byte("DATA;USCITE\n14/10/2025;-4,42\n"))
	b := Checksum([]byte("DATA;USCITE\n14/10/2025;-4,42\n"))
	if a != b {
		t.Error("checksum must be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("checksum length = %d, want 64 hex chars", len(a))
	}
	if a == Checksum([]byte("other")) {
		t.Error("different bytes must not collide")
	}
}

func TestSplitURI(t *testing.T) {
	bucket, object, err := splitURI("gs://spesalog-raw/uploads/u1/abc-file.csv")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "spesalog-raw" || object != "uploads/u1/abc-file.csv" {
		t.Errorf("split = %q / %q", bucket, object)
	}

	if _, _, err := splitURI("https://example.com/x"); err == nil {
		t.Error("non-gs URI must fail")
	}
	if _, _, err := splitURI("gs://bucket-only"); err == nil {
		t.Error("URI without object path must fail")
	}
}
