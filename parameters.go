package modulo

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NoParams is the parameter record of components that take no parameters.
type NoParams struct{}

// Parameter records are plain Go values. When a struct record is synthesized
// because no explicit value was supplied, each exported field is filled from
// its tags:
//
//	type DateWriterParams struct {
//	    Today  string `required:"true"`  // no default: the build fails if unset
//	    Layout string `default:"Jan 2"`  // explicit default, decoded as YAML
//	    Count  int                       // zero value
//	}
const (
	defaultTag  = "default"
	requiredTag = "required"
)

// defaultParameters synthesizes the default record for P.
func defaultParameters[P any]() (P, error) {
	var p P
	if err := applyDefaults(reflect.ValueOf(&p).Elem(), nil); err != nil {
		return p, err
	}
	return p, nil
}

// applyDefaults fills the fields of v from their tags. Required fields whose
// YAML key appears in present are treated as supplied.
func applyDefaults(v reflect.Value, present map[string]bool) error {
	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		if present[yamlFieldName(field)] {
			continue
		}

		if required, _ := strconv.ParseBool(field.Tag.Get(requiredTag)); required {
			return MissingDefaultError{Record: t, Field: field.Name}
		}

		value, ok := field.Tag.Lookup(defaultTag)
		if !ok {
			continue
		}

		if err := yaml.Unmarshal([]byte(value), v.Field(i).Addr().Interface()); err != nil {
			return ValidationError{
				Interface: t,
				Cause:     fmt.Errorf("invalid default %q for field %s: %w", value, field.Name, err),
			}
		}
	}

	return nil
}

// decodeParameters decodes a YAML node over the defaults for P. Fields present
// in the node satisfy required fields.
func decodeParameters[P any](node *yaml.Node) (P, error) {
	var p P
	if err := applyDefaults(reflect.ValueOf(&p).Elem(), presentKeys(node)); err != nil {
		return p, err
	}

	if err := node.Decode(&p); err != nil {
		return p, ValidationError{
			Interface: reflect.TypeFor[P](),
			Cause:     fmt.Errorf("decode parameters: %w", err),
		}
	}

	return p, nil
}

func presentKeys(node *yaml.Node) map[string]bool {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	keys := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys[node.Content[i].Value] = true
	}
	return keys
}

// yamlFieldName mirrors yaml.v3's key naming: the tag name when present,
// otherwise the lowercased field name.
func yamlFieldName(field reflect.StructField) string {
	if tag := field.Tag.Get("yaml"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(field.Name)
}

// parseParameterDocument splits a YAML document into per-component nodes keyed
// by component name.
//
//	ConsoleOutput:
//	  prefix: "PREFIX> "
//	DateWriter:
//	  today: June 19
func parseParameterDocument(data []byte) (map[string]*yaml.Node, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse parameter document: %w", err)
	}

	nodes := make(map[string]*yaml.Node, len(doc))
	for name, node := range doc {
		nodes[name] = &node
	}
	return nodes, nil
}
