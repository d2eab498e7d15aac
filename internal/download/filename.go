package download

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const fallbackName = "download"

// GuessFileName picks a file name from the Content-Disposition header, the
// URL path, or the mime type, in that order.
func GuessFileName(rawURL, contentDisposition, mimeType string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := sanitize(params["filename"]); name != "" {
				return withExtension(name, mimeType)
			}
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		base := path.Base(u.Path)
		if base != "." && base != "/" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				base = unescaped
			}
			if name := sanitize(base); name != "" {
				return withExtension(name, mimeType)
			}
		}
	}
	return withExtension(fallbackName, mimeType)
}

// withExtension appends the mime type's extension when name has none.
func withExtension(name, mimeType string) string {
	if filepath.Ext(name) != "" || mimeType == "" {
		return name
	}
	if m := mimetype.Lookup(baseType(mimeType)); m != nil {
		return name + m.Extension()
	}
	if exts, err := mime.ExtensionsByType(baseType(mimeType)); err == nil && len(exts) > 0 {
		return name + exts[0]
	}
	return name
}

func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.TrimSpace(strings.ToLower(mimeType))
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, name)
}

// createUnique creates name in dir, adding " (1)", " (2)" ... before the
// extension until the name is free.
func createUnique(dir, name string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create download directory: %w", err)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		p := filepath.Join(dir, candidate)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, p, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s", name)
}
