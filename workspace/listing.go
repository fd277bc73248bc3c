package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// List returns the relative slash-separated paths of every file under root,
// sorted, excluding those matching any of the ignore globs.
func List(root string, ignore []string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if ignored(rel, ignore) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// Excerpts renders bounded file contents for prompt context: at most
// fileLimit files in sorted order, each truncated to charsPerFile.
func Excerpts(root string, ignore []string, fileLimit, charsPerFile int) (string, error) {
	files, err := List(root, ignore)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "(no files)", nil
	}
	if fileLimit > 0 && len(files) > fileLimit {
		files = files[:fileLimit]
	}

	var b strings.Builder
	for i, rel := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", rel, err)
		}
		content := string(data)
		if charsPerFile > 0 && len(content) > charsPerFile {
			content = content[:charsPerFile]
		}

		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n```\n%s\n```", rel, content)
	}
	return b.String(), nil
}

// FormatListing renders a file list as markdown bullet lines.
func FormatListing(files []string) string {
	if len(files) == 0 {
		return "(no files)"
	}
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- " + f)
	}
	return b.String()
}

func ignored(rel string, ignore []string) bool {
	for _, pattern := range ignore {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
