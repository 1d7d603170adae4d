package capture

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"screenrelay/internal/domain"
)

var descriptorPattern = regexp.MustCompile(`Saved screenshot as (.*)`)

// ScreenshotDir is where the host writes screenshots, relative to the run dir.
func ScreenshotDir(runDir string) string {
	return filepath.Join(runDir, "screenshots")
}

// ParseDescriptor extracts the file name from the host's capture description
// and resolves it under <runDir>/screenshots. Only the base name is used, so a
// descriptor can never point outside the screenshot directory.
func ParseDescriptor(runDir, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty capture descriptor", domain.ErrCaptureFailed)
	}
	m := descriptorPattern.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("%w: unrecognised capture descriptor %q", domain.ErrCaptureFailed, text)
	}
	name := filepath.Base(strings.TrimSpace(m[1]))
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return "", fmt.Errorf("%w: no file name in descriptor %q", domain.ErrCaptureFailed, text)
	}
	return filepath.Join(ScreenshotDir(runDir), name), nil
}

// Descriptor formats the description a capturer reports for name.
func Descriptor(name string) string {
	return "Saved screenshot as " + name
}
