package cryptovfs

import (
	"os"
	"time"

	"github.com/absfs/absfs"
)

// cryptoFileInfo presents the cleartext view of an os.FileInfo: the name the
// caller asked for, the plaintext size computed from the ciphertext's host
// size, and the host's mode/mtime/dir bit passed through unchanged. Grounded
// on the teacher's encryptedFileInfo in encryptfs.go, but actually computes
// the plaintext size instead of returning the host size verbatim.
type cryptoFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (i *cryptoFileInfo) Name() string       { return i.name }
func (i *cryptoFileInfo) Size() int64        { return i.size }
func (i *cryptoFileInfo) Mode() os.FileMode  { return i.mode }
func (i *cryptoFileInfo) ModTime() time.Time { return i.modTime }
func (i *cryptoFileInfo) IsDir() bool        { return i.isDir }
func (i *cryptoFileInfo) Sys() interface{}   { return nil }

func peekOpenFile(table *OpenFileTable, hostPath string) *OpenCryptoFile {
	if table == nil {
		return nil
	}
	return table.peek(hostPath)
}

// statNode builds the cleartext FileInfo for a resolved node. cleartextName
// is what the caller sees as the entry's own name (the last path component),
// since the host FileInfo's name would be the ciphertext name instead.
func statNode(fs absfs.FileSystem, cryptor Cryptor, node CiphertextNode, cleartextName string, table *OpenFileTable) (os.FileInfo, error) {
	switch node.Kind {
	case NodeDirectory:
		hostInfo, err := fs.Stat(node.Path)
		if err != nil {
			return nil, wrapHostErr("stat", node.Path, err)
		}
		return &cryptoFileInfo{
			name:    cleartextName,
			size:    0,
			mode:    hostInfo.Mode(),
			modTime: hostInfo.ModTime(),
			isDir:   true,
		}, nil

	case NodeFile:
		if open := peekOpenFile(table, node.Path); open != nil {
			return &cryptoFileInfo{
				name:    cleartextName,
				size:    open.Size(),
				mode:    0o600,
				modTime: open.ModTime(),
				isDir:   false,
			}, nil
		}
		hostInfo, err := fs.Stat(node.Path)
		if err != nil {
			return nil, wrapHostErr("stat", node.Path, err)
		}
		size := plaintextSizeFromHostSize(hostInfo.Size(), cryptor.HeaderSize(), cryptor.CiphertextChunkSize(), cryptor.ChunkSize())
		return &cryptoFileInfo{
			name:    cleartextName,
			size:    size,
			mode:    hostInfo.Mode(),
			modTime: hostInfo.ModTime(),
			isDir:   false,
		}, nil

	case NodeSymlink:
		hostInfo, err := fs.Stat(node.Path)
		if err != nil {
			return nil, wrapHostErr("stat", node.Path, err)
		}
		size := plaintextSizeFromHostSize(hostInfo.Size(), cryptor.HeaderSize(), cryptor.CiphertextChunkSize(), cryptor.ChunkSize())
		return &cryptoFileInfo{
			name:    cleartextName,
			size:    size,
			mode:    hostInfo.Mode() | os.ModeSymlink,
			modTime: hostInfo.ModTime(),
			isDir:   false,
		}, nil

	default:
		return nil, newErr(KindNotFound, "stat", cleartextName, nil)
	}
}
