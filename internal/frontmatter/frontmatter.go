// Package frontmatter reads the metadata block at the top of a synced
// document.
package frontmatter

import (
	"bufio"
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys looked up for each field, in order. The first set matches the
// built-in document template.
var (
	titleKeys   = []string{"标题", "title"}
	urlKeys     = []string{"URL", "url"}
	createdKeys = []string{"创建时间", "create_time", "created"}
	idKeys      = []string{"bookmark_id", "bookmarkId"}
)

// Result holds the output of parsing a document.
type Result struct {
	Fields     map[string]string
	Body       string
	Title      string
	URL        string
	Created    string
	BookmarkID string
}

// Parse splits data into front matter and body. Front matter that is not
// valid YAML is read line by line as "key: value" pairs, since rendered
// titles often contain colons. A document without front matter is all body.
func Parse(data []byte) *Result {
	block, body, ok := split(data)
	res := &Result{Body: body}
	if !ok {
		res.Title = firstHeading(body)
		return res
	}

	res.Fields = decode(block)
	res.Title = lookup(res.Fields, titleKeys)
	res.URL = lookup(res.Fields, urlKeys)
	res.Created = lookup(res.Fields, createdKeys)
	res.BookmarkID = lookup(res.Fields, idKeys)
	if res.Title == "" {
		res.Title = firstHeading(body)
	}
	return res
}

// split separates the block between leading --- delimiters from the body.
func split(data []byte) ([]byte, string, bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), false
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), false
	}
	block := rest[:idx]
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
	return block, body, true
}

// decode keeps scalar values as written; a timestamp such as
// "2024-10-01 08:00:00" stays text rather than becoming a time.Time.
func decode(block []byte) map[string]string {
	var doc yaml.Node
	if err := yaml.Unmarshal(block, &doc); err == nil && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.MappingNode {
		m := doc.Content[0]
		out := make(map[string]string, len(m.Content)/2)
		for i := 0; i+1 < len(m.Content); i += 2 {
			out[m.Content[i].Value] = scalarText(m.Content[i+1])
		}
		return out
	}

	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(block))
	for sc.Scan() {
		key, value, found := strings.Cut(sc.Text(), ":")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

func scalarText(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return ""
		}
		return n.Value
	case yaml.SequenceNode:
		items := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			items = append(items, scalarText(c))
		}
		return strings.Join(items, ", ")
	case yaml.AliasNode:
		if n.Alias != nil {
			return scalarText(n.Alias)
		}
	}
	return ""
}

func lookup(fields map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
