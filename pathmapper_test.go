package cryptovfs

import (
	"path"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

func newTestMapper(t *testing.T) (absfs.FileSystem, *CryptoPathMapper, *dirOps) {
	t.Helper()
	base, err := memfs.NewFS()
	if err != nil {
		t.Fatal(err)
	}
	cryptor, err := NewCryptor(CipherAES256GCM, testMasterKey(), DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	codec := NewFilenameCodec(cryptor, DefaultShorteningThreshold, DefaultMaxCleartextNameLen)
	if err := base.MkdirAll(RootDirId.contentDir("/vault"), 0o755); err != nil {
		t.Fatal(err)
	}
	mapper := NewCryptoPathMapper(base, "/vault", codec, 16)
	ops := &dirOps{fs: base, cryptor: cryptor, codec: codec, mapper: mapper, root: "/vault"}
	return base, mapper, ops
}

func TestPathMapperResolveRoot(t *testing.T) {
	_, mapper, _ := newTestMapper(t)
	node, err := mapper.Resolve("/")
	if err != nil {
		t.Fatal(err)
	}
	if node.Kind != NodeDirectory {
		t.Fatalf("root should resolve to a directory, got %v", node.Kind)
	}
	if node.DirId != RootDirId {
		t.Errorf("root DirId = %q, want empty RootDirId", node.DirId)
	}
}

func TestPathMapperResolveMissing(t *testing.T) {
	_, mapper, _ := newTestMapper(t)
	node, err := mapper.Resolve("/nope")
	if err != nil {
		t.Fatal(err)
	}
	if node.Kind != NodeMissing {
		t.Errorf("Kind = %v, want NodeMissing", node.Kind)
	}
}

func TestPathMapperResolveAfterMkdir(t *testing.T) {
	_, mapper, ops := newTestMapper(t)
	if err := ops.mkdirAll("/a/b/c"); err != nil {
		t.Fatalf("mkdirAll: %v", err)
	}

	node, err := mapper.Resolve("/a/b/c")
	if err != nil {
		t.Fatal(err)
	}
	if node.Kind != NodeDirectory {
		t.Fatalf("Kind = %v, want NodeDirectory", node.Kind)
	}

	mid, err := mapper.Resolve("/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if mid.DirId == node.DirId {
		t.Error("nested directories must have distinct DirIds")
	}
}

func TestPathMapperResolveParent(t *testing.T) {
	_, mapper, ops := newTestMapper(t)
	if err := ops.mkdirAll("/a/b"); err != nil {
		t.Fatal(err)
	}
	parent, name, err := mapper.ResolveParent("/a/b/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if name != "file.txt" {
		t.Errorf("name = %q, want file.txt", name)
	}
	direct, err := mapper.Resolve("/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if parent.DirId != direct.DirId {
		t.Error("ResolveParent's DirId should match resolving the parent path directly")
	}
}

func TestPathMapperResolvePopulatesDirIdCache(t *testing.T) {
	_, mapper, ops := newTestMapper(t)
	if err := ops.mkdir("/a"); err != nil {
		t.Fatal(err)
	}
	node, err := mapper.Resolve("/a")
	if err != nil {
		t.Fatal(err)
	}
	cached, ok := mapper.dirs.get("/a")
	if !ok {
		t.Fatal("resolving a directory should populate the DirId cache")
	}
	if cached != node.DirId {
		t.Errorf("cached DirId = %q, want %q", cached, node.DirId)
	}
}

// TestPathMapperResolveUsesDirIdCache confirms Resolve consults the cache
// before reading dir.c9r: with a cached entry present, corrupting dir.c9r on
// host must not stop a subsequent resolve of the same path from succeeding.
func TestPathMapperResolveUsesDirIdCache(t *testing.T) {
	base, mapper, ops := newTestMapper(t)
	if err := ops.mkdir("/a"); err != nil {
		t.Fatal(err)
	}
	before, err := mapper.Resolve("/a")
	if err != nil {
		t.Fatal(err)
	}

	f, err := base.Create(path.Join(before.Path, dirIdFileName))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("not a valid dir id")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	after, err := mapper.Resolve("/a")
	if err != nil {
		t.Fatalf("resolve should be served from the cache, not the corrupted marker: %v", err)
	}
	if after.DirId != before.DirId {
		t.Errorf("DirId = %q, want %q from the cache", after.DirId, before.DirId)
	}
}

func TestPathMapperResolveThroughNonDirectoryFails(t *testing.T) {
	base, mapper, _ := newTestMapper(t)
	longName, hostName, _, err := mapper.codec.Encode("file.txt", RootDirId)
	if err != nil {
		t.Fatal(err)
	}
	_ = longName
	f, err := base.Create(RootDirId.contentDir("/vault") + "/" + hostName)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := mapper.Resolve("/file.txt/sub"); err == nil {
		t.Fatal("resolving through a plain file should fail")
	}
}
