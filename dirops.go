package cryptovfs

import (
	"os"
	"path"

	"github.com/absfs/absfs"
)

// dirOps bundles the operations that mutate the directory tree: create,
// remove, move. It closes over the pieces a CryptoFileSystem also needs
// (host, cryptor, codec, path mapper, DirId cache) so it can be exercised
// directly by tests without constructing a whole CryptoFileSystem. Grounded
// on the teacher's Mkdir/MkdirAll/Remove/RemoveAll/Rename in encryptfs.go,
// reworked around DirId-addressed content directories instead of a mirrored
// ciphertext tree.
type dirOps struct {
	fs      absfs.FileSystem
	cryptor Cryptor
	codec   *FilenameCodec
	mapper  *CryptoPathMapper
	files   *OpenFileTable
	root    string
}

// mkdir creates a single directory: a marker entry in the parent (encrypted
// name, or a .c9s wrapper if the encrypted name is too long) holding the new
// directory's own DirId, plus that DirId's content directory under d/.
func (d *dirOps) mkdir(cleartextPath string) error {
	parent, name, err := d.mapper.ResolveParent(cleartextPath)
	if err != nil {
		return err
	}
	existing, err := d.mapper.resolveComponent(parent.Path, parent.DirId, name, cleartextPath)
	if err != nil {
		return err
	}
	if existing.Kind != NodeMissing {
		return newErr(KindAlreadyExists, "mkdir", cleartextPath, nil)
	}

	longName, hostName, shortened, err := d.codec.Encode(name, parent.DirId)
	if err != nil {
		return err
	}
	markerPath := path.Join(parent.Path, hostName)
	if err := d.fs.Mkdir(markerPath, 0o755); err != nil {
		return wrapHostErr("mkdir", cleartextPath, err)
	}
	if shortened {
		if err := writeNameSidecar(d.fs, markerPath, longName); err != nil {
			return err
		}
	}

	childID := newDirId()
	if err := writeDirIdFile(d.fs, markerPath, childID); err != nil {
		return err
	}
	if err := d.fs.MkdirAll(childID.contentDir(d.root), 0o755); err != nil {
		return wrapHostErr("mkdir", cleartextPath, err)
	}
	d.mapper.dirs.put(cleartextPath, childID)
	return nil
}

// mkdirAll creates cleartextPath and every missing ancestor, like the
// teacher's MkdirAll but walking one DirId-addressed level at a time since
// there is no single host path whose ancestors can be created in bulk.
func (d *dirOps) mkdirAll(cleartextPath string) error {
	components := splitComponents(cleartextPath)
	built := ""
	for _, c := range components {
		built = path.Join(built, c)
		node, err := d.mapper.Resolve(built)
		if err != nil {
			return err
		}
		if node.Kind == NodeMissing {
			if err := d.mkdir(built); err != nil {
				return err
			}
			continue
		}
		if node.Kind != NodeDirectory {
			return newErr(KindNotADirectory, "mkdirAll", built, nil)
		}
	}
	return nil
}

// rmdir removes an empty directory. The content directory under d/ is
// unlinked along with the marker entry in its parent.
func (d *dirOps) rmdir(cleartextPath string) error {
	parent, name, err := d.mapper.ResolveParent(cleartextPath)
	if err != nil {
		return err
	}
	node, err := d.mapper.resolveComponent(parent.Path, parent.DirId, name, cleartextPath)
	if err != nil {
		return err
	}
	if node.Kind == NodeMissing {
		return newErr(KindNotFound, "rmdir", cleartextPath, nil)
	}
	if node.Kind != NodeDirectory {
		return newErr(KindNotADirectory, "rmdir", cleartextPath, nil)
	}

	empty, err := d.dirIsEmpty(node.DirId.contentDir(d.root))
	if err != nil {
		return err
	}
	if !empty {
		return newErr(KindNotEmpty, "rmdir", cleartextPath, nil)
	}

	if err := d.fs.RemoveAll(node.DirId.contentDir(d.root)); err != nil {
		return wrapHostErr("rmdir", cleartextPath, err)
	}
	if err := d.fs.RemoveAll(node.Path); err != nil {
		return wrapHostErr("rmdir", cleartextPath, err)
	}
	d.mapper.dirs.invalidatePrefix(cleartextPath)
	return nil
}

func (d *dirOps) dirIsEmpty(contentDir string) (bool, error) {
	f, err := d.fs.Open(contentDir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, wrapHostErr("readdir", contentDir, err)
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil && len(names) == 0 {
		return true, nil
	}
	for _, name := range names {
		if name != "." && name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// removeFile deletes a single file or symlink entry.
func (d *dirOps) removeFile(cleartextPath string) error {
	parent, name, err := d.mapper.ResolveParent(cleartextPath)
	if err != nil {
		return err
	}
	node, err := d.mapper.resolveComponent(parent.Path, parent.DirId, name, cleartextPath)
	if err != nil {
		return err
	}
	switch node.Kind {
	case NodeMissing:
		return newErr(KindNotFound, "remove", cleartextPath, nil)
	case NodeDirectory:
		return d.rmdir(cleartextPath)
	}

	removePath := node.Path
	if node.Shortened || node.Kind == NodeSymlink {
		removePath = wrapperDirOf(node.Path)
	}
	if err := d.fs.RemoveAll(removePath); err != nil {
		return wrapHostErr("remove", cleartextPath, err)
	}
	return nil
}

// wrapperDirOf returns the directory holding a resolved entry's payload
// file: for a shortened file node.Path is its contents.c9r and for a
// symlink it is its symlink.c9r, so one Dir() reaches the .c9s wrapper or
// marker directory. Any other path (a shortened directory's wrapper) is
// returned unchanged.
func wrapperDirOf(entryPath string) string {
	switch path.Base(entryPath) {
	case contentsMarker, symlinkMarker:
		return path.Dir(entryPath)
	}
	return entryPath
}

// move implements rename semantics. Because a directory's children live at
// a location addressed by its own DirId rather than nested under its
// parent, moving a directory only ever touches its marker entry: the DirId
// and content directory are untouched, so every descendant path resolves
// correctly afterward without being rewritten.
func (d *dirOps) move(oldPath, newPath string, replaceExisting bool) error {
	oldParent, oldName, err := d.mapper.ResolveParent(oldPath)
	if err != nil {
		return err
	}
	oldNode, err := d.mapper.resolveComponent(oldParent.Path, oldParent.DirId, oldName, oldPath)
	if err != nil {
		return err
	}
	if oldNode.Kind == NodeMissing {
		return newErr(KindNotFound, "move", oldPath, nil)
	}

	newParent, newName, err := d.mapper.ResolveParent(newPath)
	if err != nil {
		return err
	}
	newNode, err := d.mapper.resolveComponent(newParent.Path, newParent.DirId, newName, newPath)
	if err != nil {
		return err
	}
	if newNode.Kind != NodeMissing {
		if oldNode.Kind == NodeSymlink || newNode.Kind == NodeSymlink {
			return newErr(KindAlreadyExists, "move", newPath, nil)
		}
		if !replaceExisting {
			return newErr(KindAlreadyExists, "move", newPath, nil)
		}
		if oldNode.Kind != newNode.Kind {
			if newNode.Kind == NodeDirectory {
				return newErr(KindIsADirectory, "move", newPath, nil)
			}
			return newErr(KindNotADirectory, "move", newPath, nil)
		}
		if newNode.Kind == NodeDirectory {
			empty, err := d.dirIsEmpty(newNode.DirId.contentDir(d.root))
			if err != nil {
				return err
			}
			if !empty {
				return newErr(KindNotEmpty, "move", newPath, nil)
			}
		}
		if err := d.removeResolved(newPath, newNode); err != nil {
			return err
		}
	}

	longName, hostName, shortened, err := d.codec.Encode(newName, newParent.DirId)
	if err != nil {
		return err
	}
	destPath := path.Join(newParent.Path, hostName)

	srcPath := oldNode.Path
	if oldNode.Kind == NodeSymlink || (oldNode.Shortened && oldNode.Kind == NodeFile) {
		srcPath = wrapperDirOf(oldNode.Path)
	}
	renameTo := destPath
	if oldNode.Kind == NodeFile && shortened && !oldNode.Shortened {
		// A plain file moving onto a shortened name needs a .c9s wrapper.
		if err := d.fs.Mkdir(destPath, 0o755); err != nil {
			return wrapHostErr("move", newPath, err)
		}
		renameTo = path.Join(destPath, contentsMarker)
	}
	if err := d.fs.Rename(srcPath, renameTo); err != nil {
		return wrapHostErr("move", oldPath, err)
	}
	if shortened {
		if err := writeNameSidecar(d.fs, destPath, longName); err != nil {
			return err
		}
	}

	if oldNode.Kind == NodeFile && d.files != nil {
		newHostPath := destPath
		if shortened {
			newHostPath = path.Join(destPath, contentsMarker)
		}
		d.files.Rename(oldNode.Path, newHostPath, newPath)
	}

	d.mapper.dirs.invalidatePrefix(oldPath)
	if oldNode.Kind == NodeDirectory {
		d.mapper.dirs.put(newPath, oldNode.DirId)
	}
	return nil
}

func (d *dirOps) removeResolved(cleartextPath string, node CiphertextNode) error {
	if node.Kind == NodeDirectory {
		return d.rmdir(cleartextPath)
	}
	removePath := node.Path
	if node.Shortened {
		removePath = wrapperDirOf(node.Path)
	}
	return wrapHostErr("move", cleartextPath, d.fs.RemoveAll(removePath))
}
