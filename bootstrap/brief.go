package bootstrap

import (
	"regexp"
	"strings"
)

// Brief is the parsed project request.
type Brief struct {
	Name        string
	Genre       string
	Description string
	Todo        []string
	Forbidden   []string
	GitHub      string
	Slug        string
	Raw         string
}

// briefKeyMap maps brief file keys (English and Japanese spellings) to
// canonical field names.
var briefKeyMap = map[string]string{
	"project name": "name",
	"name":         "name",
	"プロジェクト名":      "name",
	"genre":        "genre",
	"ジャンル":         "genre",
	"description":  "description",
	"説明":           "description",
	"todo":         "todo",
	"やってほしいこと":     "todo",
	"forbidden":    "forbidden",
	"禁止":           "forbidden",
	"github":       "github",
	"githubリポジトリ":  "github",
}

// emptyValueSentinels are inline values meaning "nothing here"; the key may
// still be followed by a dash list.
var emptyValueSentinels = map[string]bool{"なし": true, "none": true, "-": true}

var (
	slugInvalidPattern  = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	slugCollapsePattern = regexp.MustCompile(`-+`)
)

// ParseBrief parses a brief file: "key: value" lines, optionally followed by
// "- item" list entries for list-valued keys. Unknown keys are ignored,
// comments (#) and blank lines are skipped.
func ParseBrief(text string) *Brief {
	b := &Brief{
		Name:  "my-project",
		Genre: "website",
		Raw:   text,
	}

	currentKey := ""
	var currentList []string
	flush := func() {
		if currentKey != "" && len(currentList) > 0 {
			b.setList(currentKey, currentList)
		}
		currentList = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.Contains(line, ":") && !strings.HasPrefix(line, "-") {
			flush()

			key, value, _ := strings.Cut(line, ":")
			mapped, ok := briefKeyMap[strings.ToLower(strings.TrimSpace(key))]
			if !ok {
				currentKey = ""
				continue
			}
			value = strings.TrimSpace(value)

			if value != "" && !emptyValueSentinels[strings.ToLower(value)] {
				b.setScalar(mapped, value)
				currentKey = ""
			} else {
				currentKey = mapped
			}
		} else if strings.HasPrefix(line, "-") && currentKey != "" {
			currentList = append(currentList, strings.TrimSpace(line[1:]))
		}
	}
	flush()

	b.Slug = slugify(b.Name)
	return b
}

func (b *Brief) setScalar(key, value string) {
	switch key {
	case "name":
		b.Name = value
	case "genre":
		b.Genre = value
	case "description":
		b.Description = value
	case "github":
		b.GitHub = value
	case "todo":
		b.Todo = []string{value}
	case "forbidden":
		b.Forbidden = []string{value}
	}
}

func (b *Brief) setList(key string, items []string) {
	switch key {
	case "todo":
		b.Todo = items
	case "forbidden":
		b.Forbidden = items
	}
}

// slugify derives a filesystem- and repository-safe identifier from a name.
func slugify(name string) string {
	slug := slugInvalidPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = slugCollapsePattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "my-project"
	}
	return slug
}
