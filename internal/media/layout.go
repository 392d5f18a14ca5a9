package media

import (
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Lichas/wabridge/internal/channels"
)

const fallbackMimetype = "application/octet-stream"

// ChatFolder maps a chat id to its directory name: every rune outside
// [A-Za-z0-9] becomes '_'.
func ChatFolder(chatID string) string {
	var sb strings.Builder
	sb.Grow(len(chatID))
	for _, r := range chatID {
		if isAlnum(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// Stem is the extension-less identity of a message's media:
// <chatFolder>/<timestamp>_<messageId>.
func Stem(msg *channels.Message) string {
	return ChatFolder(msg.ChatID) + "/" + baseName(msg)
}

// Key is the store-relative path of a message's media file.
func Key(msg *channels.Message, ext string) string {
	return Stem(msg) + "." + ext
}

// FileName 不含目录的文件名
func FileName(msg *channels.Message, ext string) string {
	return baseName(msg) + "." + ext
}

func baseName(msg *channels.Message) string {
	return fmt.Sprintf("%d_%s", msg.Timestamp, safeID(msg.ID))
}

// safeID keeps message ids usable as a file name segment.
func safeID(id string) string {
	return strings.Map(func(r rune) rune {
		if isAlnum(r) || r == '@' || r == '.' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, id)
}

// Extension derives the file extension from a mimetype's subtype, ignoring
// parameters. Missing or malformed types give "bin".
func Extension(mimetype string) string {
	if strings.TrimSpace(mimetype) == "" {
		return "bin"
	}
	mt, _, err := mime.ParseMediaType(mimetype)
	if err != nil {
		return "bin"
	}
	_, sub, ok := strings.Cut(mt, "/")
	if !ok || sub == "" {
		return "bin"
	}
	for _, r := range sub {
		if !isAlnum(r) && r != '.' && r != '+' && r != '-' {
			return "bin"
		}
	}
	return sub
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Layout resolves keys to disk paths and public URLs.
type Layout struct {
	Root         string
	PublicPrefix string
}

// Path 本地文件路径
func (l Layout) Path(key string) string {
	return filepath.Join(l.Root, filepath.FromSlash(key))
}

// URL 对外访问地址
func (l Layout) URL(key string) string {
	prefix := "/" + strings.Trim(l.PublicPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	return path.Join(prefix+"/", key)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// writeFileAtomic writes via a temp file in the target directory and renames
// it into place, so readers never see a partial file.
func writeFileAtomic(target string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func isTempName(name string) bool {
	return strings.Contains(name, ".tmp-")
}
