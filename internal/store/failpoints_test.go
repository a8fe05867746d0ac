package store

import "testing"

func TestFailPoints_OneShot(t *testing.T) {
	fp := NewFailPoints()
	fp.Inject("e1", StageAfterManifest, "boom")

	if err := fp.Check("e1", StageAfterStatus); err != nil {
		t.Fatalf("wrong stage must not fire, got %v", err)
	}
	if err := fp.Check("e2", StageAfterManifest); err != nil {
		t.Fatalf("wrong event must not fire, got %v", err)
	}

	err := fp.Check("e1", StageAfterManifest)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := fp.Check("e1", StageAfterManifest); err != nil {
		t.Errorf("fault must be cleared after firing, got %v", err)
	}
}

func TestFailPoints_NilNeverFires(t *testing.T) {
	var fp *FailPoints
	if err := fp.Check("e1", StageAfterStatus); err != nil {
		t.Errorf("nil fail points must not fire, got %v", err)
	}
}
