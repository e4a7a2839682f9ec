package cryptovfs

import (
	"io"
	"os"
	"path"
	"strings"

	"github.com/absfs/absfs"
)

// cryptoFile is the absfs.File handle returned by CryptoFileSystem. A
// regular file wraps a shared *OpenCryptoFile; a directory instead wraps a
// host handle on the DirId's content directory and translates ciphertext
// entry names back to cleartext as they're listed. Grounded on the
// teacher's ChunkedFile in chunked_file.go for the file-mode method bodies.
type cryptoFile struct {
	// file mode
	open       *OpenCryptoFile
	table      *OpenFileTable
	hostPath   string
	pos        int64
	appendMode bool

	// directory mode
	isDir      bool
	dirHost    absfs.File
	dirID      DirId
	mapper     *CryptoPathMapper
	codec      *FilenameCodec
	cryptor    Cryptor
	base       absfs.FileSystem
	contentDir string

	name string
}

func (f *cryptoFile) Name() string { return f.name }

func (f *cryptoFile) Read(p []byte) (int, error) {
	if f.isDir {
		return 0, newErr(KindIsADirectory, "read", f.name, nil)
	}
	n, err := f.open.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *cryptoFile) Write(p []byte) (int, error) {
	if f.isDir {
		return 0, newErr(KindIsADirectory, "write", f.name, nil)
	}
	if f.appendMode {
		off, n, err := f.open.AppendAt(p)
		f.pos = off + int64(n)
		return n, err
	}
	n, err := f.open.WriteAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *cryptoFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *cryptoFile) ReadAt(p []byte, off int64) (int, error) {
	if f.isDir {
		return 0, newErr(KindIsADirectory, "read", f.name, nil)
	}
	return f.open.ReadAt(p, off)
}

func (f *cryptoFile) WriteAt(p []byte, off int64) (int, error) {
	if f.isDir {
		return 0, newErr(KindIsADirectory, "write", f.name, nil)
	}
	return f.open.WriteAt(p, off)
}

func (f *cryptoFile) Seek(offset int64, whence int) (int64, error) {
	if f.isDir {
		return 0, newErr(KindIsADirectory, "seek", f.name, nil)
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = f.open.Size() + offset
	default:
		return 0, newErr(KindOther, "seek", f.name, nil)
	}
	if newPos < 0 {
		return 0, newErr(KindOther, "seek", f.name, nil)
	}
	f.pos = newPos
	return newPos, nil
}

func (f *cryptoFile) Truncate(size int64) error {
	if f.isDir {
		return newErr(KindIsADirectory, "truncate", f.name, nil)
	}
	return f.open.Truncate(size)
}

func (f *cryptoFile) Sync() error {
	if f.isDir {
		return nil
	}
	return f.open.Sync()
}

func (f *cryptoFile) Close() error {
	if f.isDir {
		return f.dirHost.Close()
	}
	return f.table.Release(f.hostPath)
}

func (f *cryptoFile) Stat() (os.FileInfo, error) {
	if f.isDir {
		hostInfo, err := f.dirHost.Stat()
		if err != nil {
			return nil, wrapHostErr("stat", f.name, err)
		}
		return &cryptoFileInfo{name: f.name, mode: hostInfo.Mode(), modTime: hostInfo.ModTime(), isDir: true}, nil
	}
	return &cryptoFileInfo{
		name:    f.name,
		size:    f.open.Size(),
		mode:    0o600,
		modTime: f.open.ModTime(),
	}, nil
}

// listCleartextNames returns every cleartext child name in this directory,
// resolving .c9s wrappers via their name.c9s sidecar and skipping payload
// files (dir.c9r, symlink.c9r, name.c9s) that are never entries in their own
// right.
func (f *cryptoFile) listCleartextNames() ([]string, error) {
	hostNames, err := f.dirHost.Readdirnames(-1)
	if err != nil {
		return nil, wrapHostErr("readdir", f.name, err)
	}
	names := make([]string, 0, len(hostNames))
	for _, hostName := range hostNames {
		switch {
		case strings.HasSuffix(hostName, shortNameSuffix):
			longName, err := readNameSidecar(f.base, path.Join(f.contentDir, hostName))
			if err != nil {
				continue
			}
			cleartext, err := f.codec.Decode(longName, f.dirID)
			if err != nil {
				continue
			}
			names = append(names, cleartext)
		case strings.HasSuffix(hostName, longNameSuffix):
			cleartext, err := f.codec.Decode(hostName, f.dirID)
			if err != nil {
				continue
			}
			names = append(names, cleartext)
		}
	}
	return names, nil
}

func (f *cryptoFile) Readdirnames(n int) ([]string, error) {
	if !f.isDir {
		return nil, newErr(KindNotADirectory, "readdirnames", f.name, nil)
	}
	names, err := f.listCleartextNames()
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(names) {
		names = names[:n]
	}
	return names, nil
}

func (f *cryptoFile) Readdir(n int) ([]os.FileInfo, error) {
	if !f.isDir {
		return nil, newErr(KindNotADirectory, "readdir", f.name, nil)
	}
	names, err := f.listCleartextNames()
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(names) {
		names = names[:n]
	}
	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		node, err := f.mapper.resolveComponent(f.contentDir, f.dirID, name, "")
		if err != nil || node.Kind == NodeMissing {
			continue
		}
		info, err := statNode(f.base, f.cryptor, node, name, nil)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
