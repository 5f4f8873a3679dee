package models

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseObjects decodes descriptors from YAML. The document is either a
// single object (it has a "type" key), a list of objects, or a mapping of
// object name to object; in the last form a missing name is taken from the
// key. Declaration order is kept.
func ParseObjects(data []byte) ([]*ObjectDescriptor, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse descriptors: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		objs := make([]*ObjectDescriptor, 0, len(root.Content))
		for _, item := range root.Content {
			obj, err := decodeObject("", item)
			if err != nil {
				return nil, err
			}
			objs = append(objs, obj)
		}
		return objs, nil
	case yaml.MappingNode:
		if hasKey(root, "type") {
			obj, err := decodeObject("", root)
			if err != nil {
				return nil, err
			}
			return []*ObjectDescriptor{obj}, nil
		}
		objs := make([]*ObjectDescriptor, 0, len(root.Content)/2)
		for i := 0; i+1 < len(root.Content); i += 2 {
			obj, err := decodeObject(root.Content[i].Value, root.Content[i+1])
			if err != nil {
				return nil, err
			}
			objs = append(objs, obj)
		}
		return objs, nil
	}
	return nil, fmt.Errorf("line %d: descriptors must be an object, a list or a mapping", root.Line)
}

func decodeObject(name string, n *yaml.Node) (*ObjectDescriptor, error) {
	var obj ObjectDescriptor
	if err := n.Decode(&obj); err != nil {
		if name != "" {
			return nil, fmt.Errorf("object %s: %w", name, err)
		}
		return nil, err
	}
	if obj.Name == "" {
		obj.Name = name
	}
	if obj.Name == "" {
		return nil, fmt.Errorf("line %d: object missing name", n.Line)
	}
	switch obj.Kind {
	case KindTable, KindView, KindCode, KindCode2:
	default:
		return nil, fmt.Errorf("object %s: unsupported type %q", obj.Name, obj.Kind)
	}
	return &obj, nil
}

func hasKey(n *yaml.Node, key string) bool {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}

// LoadFile reads descriptors from a YAML file.
func LoadFile(path string) ([]*ObjectDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	objs, err := ParseObjects(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, obj := range objs {
		obj.Path = path
	}
	return objs, nil
}

// LoadDir reads every .yaml and .yml file in dir, in file name order.
func LoadDir(dir string) ([]*ObjectDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var all []*ObjectDescriptor
	for _, f := range files {
		objs, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		all = append(all, objs...)
	}
	return all, nil
}
