package cryptovfs

import (
	"os"
	"path"
	"strings"

	"github.com/absfs/absfs"
)

const (
	contentsMarker = "contents.c9r"
	symlinkMarker  = "symlink.c9r"
)

// CiphertextDir is what resolveParent yields: enough to create or look up
// a child by cleartext name without re-walking from the root.
type CiphertextDir struct {
	Path  string
	DirId DirId
}

// CryptoPathMapper is spec.md §4.3's path translator: it walks a cleartext
// path component by component, encrypting each name under its parent's
// DirId and inspecting what exists on the host to determine node kind.
// Grounded on the gocryptfs pack member's
// nametransform.EncryptPathDirIV/DecryptPathDirIV walk-and-cache algorithm,
// adapted from gocryptfs's nested-ciphertext-directory model to spec.md's
// DirId-addressed d/XX/YYY… model, where a directory's children live at a
// location computed from its DirId's hash rather than nested under its
// parent.
type CryptoPathMapper struct {
	fs    absfs.FileSystem
	root  string
	codec *FilenameCodec
	dirs  *dirIdCache
}

func NewCryptoPathMapper(fs absfs.FileSystem, root string, codec *FilenameCodec, dirIdCacheSize int) *CryptoPathMapper {
	return &CryptoPathMapper{fs: fs, root: root, codec: codec, dirs: newDirIdCache(dirIdCacheSize)}
}

func splitComponents(cleartextPath string) []string {
	clean := strings.Trim(path.Clean("/"+cleartextPath), "/")
	if clean == "" || clean == "." {
		return nil
	}
	return strings.Split(clean, "/")
}

// Resolve walks cleartextPath from the vault root and returns the
// CiphertextNode it names, or a NodeMissing node if the final component or
// any intermediate directory along the way is absent.
func (m *CryptoPathMapper) Resolve(cleartextPath string) (CiphertextNode, error) {
	components := splitComponents(cleartextPath)
	if len(components) == 0 {
		return CiphertextNode{Kind: NodeDirectory, Path: RootDirId.contentDir(m.root), DirId: RootDirId}, nil
	}

	dirID := RootDirId
	contentDir := RootDirId.contentDir(m.root)

	for i, name := range components {
		walked := "/" + strings.Join(components[:i+1], "/")
		child, err := m.resolveComponent(contentDir, dirID, name, walked)
		if err != nil {
			return CiphertextNode{}, err
		}
		last := i == len(components)-1
		if last {
			return child, nil
		}
		if child.Kind == NodeMissing {
			return CiphertextNode{Kind: NodeMissing}, nil
		}
		if child.Kind != NodeDirectory {
			return CiphertextNode{}, newErr(KindNotADirectory, "resolve", cleartextPath, nil)
		}
		dirID = child.DirId
		contentDir = dirID.contentDir(m.root)
	}
	// unreachable: loop always returns on the last component
	return CiphertextNode{Kind: NodeMissing}, nil
}

// ResolveParent resolves every component but the last and returns the
// parent's ciphertext directory plus the unresolved final cleartext name,
// for create/delete operations where the terminal entry may not yet exist.
func (m *CryptoPathMapper) ResolveParent(cleartextPath string) (CiphertextDir, string, error) {
	components := splitComponents(cleartextPath)
	if len(components) == 0 {
		return CiphertextDir{}, "", newErr(KindInvalidName, "resolveParent", cleartextPath, nil)
	}
	parentPath := "/" + strings.Join(components[:len(components)-1], "/")
	node, err := m.Resolve(parentPath)
	if err != nil {
		return CiphertextDir{}, "", err
	}
	if node.Kind == NodeMissing {
		return CiphertextDir{}, "", newErr(KindNotFound, "resolveParent", parentPath, nil)
	}
	if node.Kind != NodeDirectory {
		return CiphertextDir{}, "", newErr(KindNotADirectory, "resolveParent", parentPath, nil)
	}
	return CiphertextDir{Path: node.DirId.contentDir(m.root), DirId: node.DirId}, components[len(components)-1], nil
}

// resolveComponent looks up a single cleartext name under the ciphertext
// directory addressed by (contentDir, parentDirID). Because encryption and
// shortening are both pure functions of (name, parentDirID, threshold),
// the expected host path is computed directly — no directory listing is
// needed to decide whether an entry is shortened.
func (m *CryptoPathMapper) resolveComponent(contentDir string, parentDirID DirId, name, cleartextPath string) (CiphertextNode, error) {
	longName, hostName, shortened, err := m.codec.Encode(name, parentDirID)
	if err != nil {
		return CiphertextNode{}, err
	}
	_ = longName
	hostPath := path.Join(contentDir, hostName)

	info, err := m.fs.Stat(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return CiphertextNode{Kind: NodeMissing}, nil
		}
		return CiphertextNode{}, wrapHostErr("resolve", hostPath, err)
	}

	if !shortened {
		if !info.IsDir() {
			return CiphertextNode{Kind: NodeFile, Path: hostPath}, nil
		}
		return m.resolveMarkerDir(hostPath, cleartextPath)
	}

	// Shortened entries are always a .c9s wrapper directory.
	if !info.IsDir() {
		return CiphertextNode{}, newErr(KindCorruptedDirectory, "resolve", hostPath, nil)
	}
	node, err := m.resolveWrapperDir(hostPath, cleartextPath)
	if err != nil {
		return CiphertextNode{}, err
	}
	node.Shortened = true
	return node, nil
}

// resolveMarkerDir inspects an unshortened directory-shaped .c9r entry: it
// is either a subdirectory marker (holding dir.c9r) or a symlink marker
// (holding symlink.c9r). Files never take this shape — they are a plain
// .c9r file, handled by the caller before reaching here. cleartextPath is
// consulted against the DirId cache before dir.c9r is read from host, and
// populated after a successful read.
func (m *CryptoPathMapper) resolveMarkerDir(markerPath, cleartextPath string) (CiphertextNode, error) {
	if _, err := m.fs.Stat(path.Join(markerPath, dirIdFileName)); err == nil {
		if cleartextPath != "" {
			if id, ok := m.dirs.get(cleartextPath); ok {
				return CiphertextNode{Kind: NodeDirectory, Path: markerPath, DirId: id}, nil
			}
		}
		id, err := readDirIdFile(m.fs, markerPath)
		if err != nil {
			return CiphertextNode{}, err
		}
		if cleartextPath != "" {
			m.dirs.put(cleartextPath, id)
		}
		return CiphertextNode{Kind: NodeDirectory, Path: markerPath, DirId: id}, nil
	}
	if _, err := m.fs.Stat(path.Join(markerPath, symlinkMarker)); err == nil {
		return CiphertextNode{Kind: NodeSymlink, Path: path.Join(markerPath, symlinkMarker)}, nil
	}
	return CiphertextNode{}, newErr(KindCorruptedDirectory, "resolve", markerPath,
		errNoMarkerFound)
}

// resolveWrapperDir inspects a .c9s shortened-entry wrapper: exactly one of
// contents.c9r (file), dir.c9r (directory), symlink.c9r (symlink) should be
// present alongside the name.c9s sidecar. Consults and populates the DirId
// cache the same way resolveMarkerDir does.
func (m *CryptoPathMapper) resolveWrapperDir(wrapperPath, cleartextPath string) (CiphertextNode, error) {
	if _, err := m.fs.Stat(path.Join(wrapperPath, contentsMarker)); err == nil {
		return CiphertextNode{Kind: NodeFile, Path: path.Join(wrapperPath, contentsMarker)}, nil
	}
	if _, err := m.fs.Stat(path.Join(wrapperPath, dirIdFileName)); err == nil {
		if cleartextPath != "" {
			if id, ok := m.dirs.get(cleartextPath); ok {
				return CiphertextNode{Kind: NodeDirectory, Path: wrapperPath, DirId: id}, nil
			}
		}
		id, err := readDirIdFile(m.fs, wrapperPath)
		if err != nil {
			return CiphertextNode{}, err
		}
		if cleartextPath != "" {
			m.dirs.put(cleartextPath, id)
		}
		return CiphertextNode{Kind: NodeDirectory, Path: wrapperPath, DirId: id}, nil
	}
	if _, err := m.fs.Stat(path.Join(wrapperPath, symlinkMarker)); err == nil {
		return CiphertextNode{Kind: NodeSymlink, Path: path.Join(wrapperPath, symlinkMarker)}, nil
	}
	return CiphertextNode{}, newErr(KindCorruptedDirectory, "resolve", wrapperPath, errNoMarkerFound)
}

var errNoMarkerFound = os.ErrInvalid
