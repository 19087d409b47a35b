package watcher

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemType is a best-effort classification of the filesystem a path
// lives on. Remote filesystems deliver inotify events unreliably (or not at
// all), so the watcher falls back to polling on them.
type FilesystemType int

const (
	FSTypeUnknown FilesystemType = iota
	FSTypeLocal
	FSTypeNFS
	FSTypeSMB
	FSTypeSSHFS
	FSTypeFUSE
)

func (t FilesystemType) String() string {
	switch t {
	case FSTypeLocal:
		return "local"
	case FSTypeNFS:
		return "nfs"
	case FSTypeSMB:
		return "smb"
	case FSTypeSSHFS:
		return "sshfs"
	case FSTypeFUSE:
		return "fuse"
	default:
		return "unknown"
	}
}

// detectFilesystemTypeFunc is a seam for tests.
var detectFilesystemTypeFunc = detectFromProcMounts

// DetectFilesystemType classifies the filesystem the path lives on. On
// systems without /proc/mounts the answer is FSTypeUnknown, which the watcher
// treats as local.
func DetectFilesystemType(path string) FilesystemType {
	if path == "" {
		return FSTypeUnknown
	}
	return detectFilesystemTypeFunc(path)
}

func isRemoteFilesystem(t FilesystemType) bool {
	switch t {
	case FSTypeNFS, FSTypeSMB, FSTypeSSHFS, FSTypeFUSE:
		return true
	default:
		return false
	}
}

// detectFromProcMounts matches the path against mount points listed in
// /proc/mounts, longest mount point wins.
func detectFromProcMounts(path string) FilesystemType {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FSTypeUnknown
	}
	// Walk up to the nearest existing ancestor so not-yet-created report
	// paths still classify.
	for {
		if _, err := os.Stat(abs); err == nil {
			break
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return FSTypeUnknown
		}
		abs = parent
	}

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return FSTypeUnknown
	}
	defer f.Close()

	type mount struct {
		point  string
		fsType string
	}
	var mounts []mount
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts = append(mounts, mount{point: fields[1], fsType: fields[2]})
	}
	// Longest mount point first so nested mounts win.
	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].point) > len(mounts[j].point)
	})

	for _, m := range mounts {
		if abs == m.point || strings.HasPrefix(abs, strings.TrimRight(m.point, "/")+"/") {
			return classifyFSName(m.fsType)
		}
	}
	return FSTypeUnknown
}

func classifyFSName(name string) FilesystemType {
	switch {
	case strings.HasPrefix(name, "nfs"):
		return FSTypeNFS
	case name == "cifs" || name == "smbfs" || name == "smb3":
		return FSTypeSMB
	case strings.Contains(name, "sshfs"):
		return FSTypeSSHFS
	case strings.HasPrefix(name, "fuse"):
		return FSTypeFUSE
	default:
		return FSTypeLocal
	}
}
