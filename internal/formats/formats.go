package formats

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is a recognized input audio container, named by its file extension.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatM4A  Format = "m4a"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
)

var supported = map[Format]struct{}{
	FormatMP3:  {},
	FormatWAV:  {},
	FormatM4A:  {},
	FormatFLAC: {},
	FormatOGG:  {},
}

var (
	ErrEmptyFilename     = errors.New("no file selected")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// FromName returns the format for a file name, matching the extension
// case-insensitively. ok is false for anything not in the supported set.
func FromName(name string) (Format, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	f := Format(ext)
	_, ok := supported[f]
	return f, ok
}

// IsAudio reports whether name carries a recognized audio extension.
func IsAudio(name string) bool {
	_, ok := FromName(name)
	return ok
}

// Supported lists the accepted extensions in a stable order for error messages.
func Supported() []string {
	return []string{"mp3", "wav", "m4a", "flac", "ogg"}
}

// ValidateUploadName checks a client-supplied filename and returns the
// base name that should be stored. Leading dots are stripped so the stored
// input is never a hidden file; a bare extension such as ".mp3" becomes
// "audio.mp3". The returned error is user-facing.
func ValidateUploadName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == "/" || base == ".." {
		return "", ErrEmptyFilename
	}
	if !IsAudio(base) {
		return "", fmt.Errorf("%w: %q; allowed formats are: %s",
			ErrUnsupportedFormat, filepath.Ext(base), strings.Join(Supported(), ", "))
	}
	if strings.HasPrefix(base, ".") {
		base = strings.TrimLeft(base, ".")
		if !strings.Contains(base, ".") {
			base = "audio." + base
		}
	}
	return base, nil
}
