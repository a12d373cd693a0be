package directive

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Binding is a kv= or r2= field option.
type Binding struct {
	Name      string
	KeyFormat string
}

// FieldTag is the parsed `cloesce:"..."` tag of a struct field, plus the json
// name used as the field's var name.
type FieldTag struct {
	JSONName string

	PrimaryKey bool
	ForeignKey string
	OneToOne   string
	OneToMany  string
	// ManyToMany is set when the option is present; UniqueID may still be empty.
	ManyToMany bool
	UniqueID   string
	KeyParam   bool
	KV         *Binding
	R2         *Binding
	Inject     bool
}

// IsNavigation reports whether the tag declares a relationship.
func (t FieldTag) IsNavigation() bool {
	return t.OneToOne != "" || t.OneToMany != "" || t.ManyToMany
}

// ParseTag parses a raw struct tag literal (including backquotes).
func ParseTag(raw string) (FieldTag, error) {
	var ft FieldTag
	if raw == "" {
		return ft, nil
	}
	unquoted, err := strconv.Unquote(raw)
	if err != nil {
		return ft, fmt.Errorf("invalid struct tag %s: %w", raw, err)
	}
	tag := reflect.StructTag(unquoted)

	if js, ok := tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(js, ",")
		if name != "-" {
			ft.JSONName = name
		}
	}

	value, ok := tag.Lookup("cloesce")
	if !ok {
		return ft, nil
	}

	var binding *Binding
	for _, opt := range strings.Split(value, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		k, v, hasValue := strings.Cut(opt, "=")
		switch k {
		case "pk":
			ft.PrimaryKey = true
		case "fk":
			ft.ForeignKey = v
		case "one_to_one":
			ft.OneToOne = v
		case "one_to_many":
			ft.OneToMany = v
		case "many_to_many":
			ft.ManyToMany = true
			ft.UniqueID = v
		case "inject":
			ft.Inject = true
		case "kv", "r2":
			if v == "" {
				return ft, fmt.Errorf("%s option requires a binding name", k)
			}
			binding = &Binding{Name: v}
			if k == "kv" {
				ft.KV = binding
			} else {
				ft.R2 = binding
			}
		case "key":
			if !hasValue {
				ft.KeyParam = true
				continue
			}
			if binding == nil {
				return ft, fmt.Errorf("key=%s must follow a kv= or r2= option", v)
			}
			binding.KeyFormat = v
		default:
			return ft, fmt.Errorf("unknown cloesce tag option %q", k)
		}
		if (k == "fk" || k == "one_to_one" || k == "one_to_many") && v == "" {
			return ft, fmt.Errorf("%s option requires a value", k)
		}
	}
	return ft, nil
}
