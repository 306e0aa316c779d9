package configtree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	errsys "github.com/armorclaw/stderr/pkg/errors"
)

// LoadFile reads and parses a configuration file, choosing the format by
// extension (.xml, .toml, .yaml, .yml). Unknown extensions are read as XML.
func LoadFile(path string) (*Node, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errsys.NewBuilder(errsys.CodeConfigurationMissing).
			WithMessagef("configuration file not found: %s", path).
			WithInput("path", path).
			Wrap(err).
			Build()
	}

	// #nosec G304 -- path comes from trusted service config/flag.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errsys.NewBuilder(errsys.CodeConfigurationMissing).
			WithMessagef("failed to read configuration file: %s", path).
			WithInput("path", path).
			Wrap(err).
			Build()
	}

	var root *Node
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		root, err = ParseTOML(data)
	case ".yaml", ".yml":
		root, err = ParseYAML(data)
	default:
		root, err = ParseXML(bytes.NewReader(data))
	}
	if err != nil {
		return nil, errsys.NewBuilder(errsys.CodeConfigurationInvalid).
			WithMessagef("failed to parse configuration file: %s", path).
			WithInput("path", path).
			Wrap(err).
			Build()
	}
	return root, nil
}

// ParseXML builds a tree from an XML document. The document element becomes
// the root; element attributes become node attributes and character data the
// node text.
func ParseXML(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)

	var root *Node
	var stack []*Node

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := NewNode(t.Name.Local)
			for _, a := range t.Attr {
				n.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("xml: multiple document elements")
				}
				root = n
			} else {
				stack[len(stack)-1].Add(n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("xml: unexpected </%s>", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("xml: empty document")
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("xml: unclosed <%s>", stack[len(stack)-1].Name)
	}
	return root, nil
}

// ParseTOML builds a tree from a TOML document. Tables become child nodes,
// arrays of tables become repeated children and scalar keys become both an
// attribute of the enclosing node and a leaf child.
func ParseTOML(data []byte) (*Node, error) {
	var m map[string]interface{}
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("toml: %w", err)
	}
	return fromMap("", m), nil
}

// ParseYAML builds a tree from a YAML document using the same mapping as
// ParseTOML.
func ParseYAML(data []byte) (*Node, error) {
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return fromMap("", m), nil
}

func fromMap(name string, m map[string]interface{}) *Node {
	n := NewNode(name)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		addValue(n, k, m[k])
	}
	return n
}

func addValue(parent *Node, key string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		parent.Add(fromMap(key, val))
	case map[interface{}]interface{}:
		parent.Add(fromMap(key, stringKeys(val)))
	case []map[string]interface{}:
		for _, item := range val {
			parent.Add(fromMap(key, item))
		}
	case []interface{}:
		for _, item := range val {
			switch it := item.(type) {
			case map[string]interface{}:
				parent.Add(fromMap(key, it))
			case map[interface{}]interface{}:
				parent.Add(fromMap(key, stringKeys(it)))
			default:
				leaf := NewNode(key)
				leaf.Text = scalarString(it)
				parent.Add(leaf)
			}
		}
	default:
		s := scalarString(val)
		parent.Attrs[key] = s
		leaf := NewNode(key)
		leaf.Text = s
		parent.Add(leaf)
	}
}

func stringKeys(m map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = v
	}
	return out
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
