package cryptovfs

import (
	"io"
	"path"

	"github.com/absfs/absfs"
)

// writeSymlinkTarget stores target as the content of a symlink.c9r file at
// hostPath, reusing the same header-plus-chunks framing as regular file
// bodies (symlink targets are rarely longer than one chunk, but there is no
// reason to special-case that). Grounded on spec.md §4.9's requirement that
// symlinks are readable/writable through the same chunk cipher as files.
func writeSymlinkTarget(fs absfs.FileSystem, cryptor Cryptor, stats *Stats, hostPath, target string) error {
	f, err := fs.Create(hostPath)
	if err != nil {
		return wrapHostErr("symlink", hostPath, err)
	}
	defer f.Close()

	open, err := newOpenCryptoFile(f, cryptor, hostPath, 1, stats, true, ParallelConfig{})
	if err != nil {
		return err
	}
	if _, err := open.WriteAt([]byte(target), 0); err != nil {
		return err
	}
	return open.Sync()
}

// readSymlinkTarget reads back what writeSymlinkTarget stored.
func readSymlinkTarget(fs absfs.FileSystem, cryptor Cryptor, stats *Stats, hostPath string) (string, error) {
	f, err := fs.OpenFile(hostPath, 0, 0)
	if err != nil {
		return "", wrapHostErr("readlink", hostPath, err)
	}
	defer f.Close()

	open, err := newOpenCryptoFile(f, cryptor, hostPath, 1, stats, false, ParallelConfig{})
	if err != nil {
		return "", err
	}
	buf := make([]byte, open.Size())
	if _, err := open.ReadAt(buf, 0); err != nil && err != io.EOF {
		return "", err
	}
	return string(buf), nil
}

// symlinkMarkerPath returns the host path of the symlink.c9r payload file
// inside a marker or wrapper directory, matching the layout resolveMarkerDir
// and resolveWrapperDir expect to find on Stat.
func symlinkMarkerPath(markerOrWrapperDir string) string {
	return path.Join(markerOrWrapperDir, symlinkMarker)
}
