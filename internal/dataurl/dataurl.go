// Package dataurl turns local files into self-contained data URLs.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMimeType is used when the extension maps to nothing.
const DefaultMimeType = "application/octet-stream"

var (
	// ErrNotFound means the file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrReadFailure means the file exists but could not be read.
	ErrReadFailure = errors.New("file could not be read")
	// ErrMalformed is returned by Decode for strings that are not base64 data URLs.
	ErrMalformed = errors.New("malformed data URL")
)

// mimeExtMap is consulted before the platform table so results do not
// depend on /etc/mime.types.
var mimeExtMap = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".ico":  "image/vnd.microsoft.icon",
	".heic": "image/heic",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".txt":  "text/plain",
	".json": "application/json",
	".pdf":  "application/pdf",
}

// EncodeError reports which file failed and why. Err is ErrNotFound or
// ErrReadFailure joined with the underlying cause.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// MimeType infers a media type from the extension of path.
func MimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return DefaultMimeType
	}
	if mt, ok := mimeExtMap[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		return mt
	}
	return DefaultMimeType
}

// Encode reads the whole file at path and returns
// data:<mime>;base64,<payload>. There is no size limit.
func Encode(path string) (string, error) {
	mimeType := MimeType(path)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &EncodeError{Path: path, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}
		}
		return "", &EncodeError{Path: path, Err: fmt.Errorf("%w: %w", ErrReadFailure, err)}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", &EncodeError{Path: path, Err: fmt.Errorf("%w: %w", ErrReadFailure, err)}
	}

	return Format(mimeType, data), nil
}

// Format builds a data URL from an explicit media type and payload.
func Format(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsDataURL reports whether s looks like a data URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// MediaType returns the media type of a data URL without decoding its
// payload. It returns "" when s is not a data URL.
func MediaType(s string) string {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return ""
	}
	end := strings.IndexAny(rest, ";,")
	if end < 0 {
		return ""
	}
	if end == 0 {
		return DefaultMimeType
	}
	return rest[:end]
}

// Decode splits a base64 data URL into its media type and bytes.
func Decode(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrMalformed
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformed
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrMalformed)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return mimeType, data, nil
}
