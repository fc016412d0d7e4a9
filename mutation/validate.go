package mutation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxCommitMessageLen = 1000
	maxFilePathLen      = 4096
	maxFileContentBytes = 500 * 1024 * 1024 // 500 MiB
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

func validateCommitMessage(msg string) error {
	if msg == "" {
		return fmt.Errorf("mutation: commit message must not be empty")
	}
	if len(msg) > maxCommitMessageLen {
		return fmt.Errorf("mutation: commit message exceeds %d characters", maxCommitMessageLen)
	}
	return nil
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("mutation: invalid author email %q", email)
	}
	return nil
}

// validateFilePath checks a mutation's target path per spec.md §4.7: no
// absolute paths, no "..", no null bytes or control characters, bounded
// length. It does not resolve the path; callers still assert containment
// against the worktree root once joined.
func validateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("mutation: file path must not be empty")
	}
	if len(path) > maxFilePathLen {
		return fmt.Errorf("mutation: file path exceeds %d bytes", maxFilePathLen)
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("mutation: file path must not be absolute")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("mutation: file path must not contain '..'")
	}
	for _, r := range path {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("mutation: file path must not contain control characters")
		}
	}
	return nil
}

func validateFileContent(content []byte) error {
	if len(content) > maxFileContentBytes {
		return fmt.Errorf("mutation: file content exceeds %d bytes", maxFileContentBytes)
	}
	return nil
}
