// Package frontmatter is the deterministic YAML header codec. The same
// logical header always yields byte-identical output: keys follow the
// canonical vault ordering, sequences render as block lists, and
// quoting is rule-driven rather than emitter-dependent.
//
// Parsing goes through yaml.v3 at the node level so scalar types are
// coerced predictably: !!bool to bool, !!int to int64, everything else
// to string. parse(serialize(h)) == h holds for any well-formed header,
// and serialize(parse(s)) == s for any s this codec emitted.
package frontmatter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/mdvault/internal/types"
)

// Delimiter separates the header block from the Markdown body.
const Delimiter = "---"

// Canonical ordering groups. Identity, classification, timestamps,
// relationships; known domain fields sort alphabetically after these,
// then x-sync, then unknown keys alphabetically.
var orderedKeys = []string{
	types.FieldID,
	types.FieldTitle,
	types.FieldState,
	types.FieldTags,
	types.FieldCreatedTS,
	types.FieldUpdatedTS,
	types.FieldDueTS,
	types.FieldStartTS,
	types.FieldEndTS,
	types.FieldDoneTS,
	types.FieldLinks,
	types.FieldDependsOn,
	types.FieldBlocks,
	types.FieldRelatesTo,
}

var domainKeys = map[string]bool{
	types.FieldAssignee:       true,
	types.FieldAttendees:      true,
	types.FieldBlockedReason:  true,
	types.FieldEstimate:       true,
	types.FieldEstimateFrozen: true,
	types.FieldLocation:       true,
	types.FieldReopenReason:   true,
}

var orderedSet = func() map[string]bool {
	m := make(map[string]bool, len(orderedKeys))
	for _, k := range orderedKeys {
		m[k] = true
	}
	return m
}()

// Serialize renders the header in canonical form, ending with a
// trailing newline. Unsupported value types are an error.
func Serialize(h types.Header) ([]byte, error) {
	var b strings.Builder
	for _, key := range keyOrder(h) {
		if err := writeEntry(&b, key, h[key], 0); err != nil {
			return nil, err
		}
	}
	return []byte(b.String()), nil
}

// Parse reads a YAML header into the vault's in-memory shape.
func Parse(data []byte) (types.Header, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("frontmatter: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return types.Header{}, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("frontmatter: header is not a mapping")
	}
	m, err := decodeMapping(doc)
	if err != nil {
		return nil, err
	}
	return types.Header(m), nil
}

// EncodeEntity renders a complete entity file: delimited header block,
// then the Markdown body. Bytes are UTF-8, newlines LF, no BOM.
func EncodeEntity(h types.Header, body string) ([]byte, error) {
	header, err := Serialize(h)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(Delimiter + "\n")
	b.Write(header)
	b.WriteString(Delimiter + "\n")
	b.WriteString(body)
	return []byte(b.String()), nil
}

// DecodeEntity splits an entity file into header and body.
func DecodeEntity(data []byte) (types.Header, string, error) {
	text := string(data)
	if !strings.HasPrefix(text, Delimiter+"\n") {
		return nil, "", fmt.Errorf("frontmatter: missing leading %q delimiter", Delimiter)
	}
	rest := text[len(Delimiter)+1:]
	idx := strings.Index(rest, "\n"+Delimiter+"\n")
	var headerText, body string
	switch {
	case strings.HasPrefix(rest, Delimiter+"\n"):
		// Empty header block.
		headerText, body = "", rest[len(Delimiter)+1:]
	case idx >= 0:
		headerText, body = rest[:idx+1], rest[idx+1+len(Delimiter)+1:]
	default:
		return nil, "", fmt.Errorf("frontmatter: missing closing %q delimiter", Delimiter)
	}
	h, err := Parse([]byte(headerText))
	if err != nil {
		return nil, "", err
	}
	return h, body, nil
}

func keyOrder(h types.Header) []string {
	out := make([]string, 0, len(h))
	for _, k := range orderedKeys {
		if _, ok := h[k]; ok {
			out = append(out, k)
		}
	}
	var domain, unknown []string
	for k := range h {
		switch {
		case orderedSet[k] || k == types.FieldSync:
		case domainKeys[k]:
			domain = append(domain, k)
		default:
			unknown = append(unknown, k)
		}
	}
	sort.Strings(domain)
	sort.Strings(unknown)
	out = append(out, domain...)
	if _, ok := h[types.FieldSync]; ok {
		out = append(out, types.FieldSync)
	}
	return append(out, unknown...)
}

func writeEntry(b *strings.Builder, key string, value any, indent int) error {
	pad := strings.Repeat("  ", indent)
	switch v := value.(type) {
	case string:
		b.WriteString(pad + key + ": " + scalar(v) + "\n")
	case bool:
		b.WriteString(pad + key + ": " + strconv.FormatBool(v) + "\n")
	case int:
		b.WriteString(pad + key + ": " + strconv.Itoa(v) + "\n")
	case int64:
		b.WriteString(pad + key + ": " + strconv.FormatInt(v, 10) + "\n")
	case []string:
		writeSeq(b, pad, key, v)
	case []any:
		ss := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("frontmatter: %s[%d]: sequences may only hold strings, got %T", key, i, e)
			}
			ss[i] = s
		}
		writeSeq(b, pad, key, ss)
	case map[string]any:
		b.WriteString(pad + key + ":\n")
		sub := make([]string, 0, len(v))
		for k := range v {
			sub = append(sub, k)
		}
		sort.Strings(sub)
		for _, k := range sub {
			if err := writeEntry(b, k, v[k], indent+1); err != nil {
				return err
			}
		}
	case nil:
		b.WriteString(pad + key + ": null\n")
	default:
		return fmt.Errorf("frontmatter: %s: unsupported value type %T", key, value)
	}
	return nil
}

func writeSeq(b *strings.Builder, pad, key string, items []string) {
	if len(items) == 0 {
		b.WriteString(pad + key + ": []\n")
		return
	}
	b.WriteString(pad + key + ":\n")
	for _, item := range items {
		b.WriteString(pad + "  - " + scalar(item) + "\n")
	}
}

// quotedChars are the characters that force double-quoting per the
// header format rules. Wiki links ("[[x]]") fall under '['.
const quotedChars = ":#|>&*!%@[{"

func scalar(s string) string {
	if needsQuote(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	if strings.ContainsAny(s, quotedChars) {
		return true
	}
	if s != strings.TrimSpace(s) {
		return true
	}
	if strings.ContainsAny(s, "\n\t\"'\\") {
		return true
	}
	if strings.HasPrefix(s, "- ") || s == "-" || strings.HasPrefix(s, "? ") {
		return true
	}
	// Plain scalars that YAML would resolve to a non-string type must
	// be quoted or they change type on re-parse.
	switch strings.ToLower(s) {
	case "true", "false", "null", "~", "yes", "no", "on", "off":
		return true
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	return false
}

func decodeMapping(node *yaml.Node) (map[string]any, error) {
	out := make(map[string]any, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("frontmatter: non-scalar mapping key at line %d", keyNode.Line)
		}
		val, err := decodeValue(valNode)
		if err != nil {
			return nil, err
		}
		out[keyNode.Value] = val
	}
	return out, nil
}

func decodeValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return decodeScalar(node)
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		for _, c := range node.Content {
			if c.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("frontmatter: nested sequence value at line %d", c.Line)
			}
			items = append(items, c.Value)
		}
		return items, nil
	case yaml.MappingNode:
		return decodeMapping(node)
	case yaml.AliasNode:
		return decodeValue(node.Alias)
	}
	return nil, fmt.Errorf("frontmatter: unsupported node kind %d at line %d", node.Kind, node.Line)
}

func decodeScalar(node *yaml.Node) (any, error) {
	switch node.Tag {
	case "!!bool":
		return node.Value == "true" || node.Value == "True" || node.Value == "TRUE", nil
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("frontmatter: bad integer %q at line %d", node.Value, node.Line)
		}
		return n, nil
	case "!!null":
		return nil, nil
	default:
		return node.Value, nil
	}
}
