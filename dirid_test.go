package cryptovfs

import "testing"

func TestNewDirIdIsUnique(t *testing.T) {
	a, b := newDirId(), newDirId()
	if a == b {
		t.Fatal("two generated DirIds should not collide")
	}
	if len(a) != 36 {
		t.Errorf("DirId length = %d, want 36", len(a))
	}
}

func TestDirIdContentDirIsStableAndSharded(t *testing.T) {
	id := newDirId()
	p1 := id.contentDir("/vault")
	p2 := id.contentDir("/vault")
	if p1 != p2 {
		t.Error("contentDir should be a pure function of the DirId")
	}
	if len(id.hash()) != 64 {
		t.Errorf("hash length = %d, want 64 (hex sha256)", len(id.hash()))
	}
}

func TestDirIdCacheEviction(t *testing.T) {
	c := newDirIdCache(2)
	c.put("/a", newDirId())
	c.put("/b", newDirId())
	c.put("/c", newDirId())

	if _, ok := c.get("/a"); ok {
		t.Error("/a should have been evicted once capacity was exceeded")
	}
	if _, ok := c.get("/b"); !ok {
		t.Error("/b should still be cached")
	}
	if _, ok := c.get("/c"); !ok {
		t.Error("/c should still be cached")
	}
}

func TestDirIdCacheInvalidatePrefix(t *testing.T) {
	c := newDirIdCache(10)
	c.put("/a", newDirId())
	c.put("/a/b", newDirId())
	c.put("/a/b/c", newDirId())
	c.put("/other", newDirId())

	c.invalidatePrefix("/a")

	if _, ok := c.get("/a"); ok {
		t.Error("/a should be invalidated")
	}
	if _, ok := c.get("/a/b"); ok {
		t.Error("/a/b should be invalidated as a descendant of /a")
	}
	if _, ok := c.get("/a/b/c"); ok {
		t.Error("/a/b/c should be invalidated as a descendant of /a")
	}
	if _, ok := c.get("/other"); !ok {
		t.Error("/other should survive an unrelated invalidation")
	}
}
