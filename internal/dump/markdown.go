package dump

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-ports/ctxsync/internal/value"
)

const divider = "---"

// renderMarkdown produces the annotated human-readable dump: YAML
// front-matter, one ## section per top-level namespace, and an optional
// history section, separated by horizontal rules.
func renderMarkdown(a *Artifact) ([]byte, error) {
	fm, err := frontmatter(a)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString(fm)
	sb.WriteString("\n# Context Dump\n\n")
	sb.WriteString("Captured ")
	sb.WriteString(a.Timestamp.Format(time.RFC1123))
	sb.WriteString(" for ")
	sb.WriteString(a.RequestedBy)
	sb.WriteString(".\n")

	groups, order := groupByNamespace(a.sortedKeys())
	for _, ns := range order {
		sb.WriteString("\n")
		sb.WriteString(divider)
		sb.WriteString("\n\n## ")
		sb.WriteString(ns)
		sb.WriteString("\n\n")
		for _, k := range groups[ns] {
			sb.WriteString(renderEntry(k, a.Context[k]))
		}
	}
	if len(order) == 0 {
		sb.WriteString("\n_No keys._\n")
	}

	if a.History != nil {
		sb.WriteString("\n")
		sb.WriteString(divider)
		sb.WriteString("\n\n## History\n\n")
		if len(a.History) == 0 {
			sb.WriteString("_No changes recorded._\n")
		} else {
			sb.WriteString("| # | Time | Who | Key | Change |\n")
			sb.WriteString("|---|------|-----|-----|--------|\n")
			for i := range a.History {
				ch := &a.History[i]
				sb.WriteString("| ")
				sb.WriteString(strconv.FormatUint(ch.Seq, 10))
				sb.WriteString(" | ")
				sb.WriteString(ch.Timestamp.Format(time.RFC3339))
				sb.WriteString(" | ")
				sb.WriteString(escapeCell(ch.Who))
				sb.WriteString(" | `")
				sb.WriteString(ch.Key)
				sb.WriteString("` | ")
				sb.WriteString(escapeCell(lineOptional(ch.Before)))
				sb.WriteString(" → ")
				sb.WriteString(escapeCell(lineOptional(ch.After)))
				sb.WriteString(" |\n")
			}
		}
	}
	return []byte(sb.String()), nil
}

type frontMatter struct {
	Format         Format    `yaml:"format"`
	Timestamp      time.Time `yaml:"timestamp"`
	RequestedBy    string    `yaml:"requested_by"`
	KeyCount       int       `yaml:"key_count"`
	IncludeHistory bool      `yaml:"include_history"`
}

func frontmatter(a *Artifact) (string, error) {
	b, err := yaml.Marshal(frontMatter{
		Format:         a.Format,
		Timestamp:      a.Timestamp,
		RequestedBy:    a.RequestedBy,
		KeyCount:       a.KeyCount(),
		IncludeHistory: a.History != nil,
	})
	if err != nil {
		return "", fmt.Errorf("dump.frontmatter: %w", err)
	}
	return divider + "\n" + string(b) + divider + "\n", nil
}

// renderEntry produces the bullet for one key. Scalars stay inline; maps and
// lists are shown as an indented JSON block.
func renderEntry(key string, v value.Value) string {
	var sb strings.Builder
	sb.WriteString("- `")
	sb.WriteString(key)
	sb.WriteString("` (")
	sb.WriteString(v.TypeName())
	switch v.Kind() {
	case value.KindMap, value.KindList:
		sb.WriteString(", ")
		sb.WriteString(strconv.Itoa(v.Len()))
		sb.WriteString(" entries):\n\n  ```json\n  ")
		sb.WriteString(v.Text())
		sb.WriteString("\n  ```\n")
	default:
		sb.WriteString("): ")
		sb.WriteString(lineValue(v))
		sb.WriteString("\n")
	}
	return sb.String()
}

// groupByNamespace buckets dot-namespaced keys by their first segment,
// preserving the sorted input order. Keys without a dot go under "(root)".
func groupByNamespace(keys []string) (map[string][]string, []string) {
	groups := make(map[string][]string)
	var order []string
	for _, k := range keys {
		ns := "(root)"
		if i := strings.IndexByte(k, '.'); i > 0 {
			ns = k[:i]
		}
		if _, ok := groups[ns]; !ok {
			order = append(order, ns)
		}
		groups[ns] = append(groups[ns], k)
	}
	return groups, order
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
