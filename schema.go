package pipe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Fields declares a step's required-field schema: a mapping from store key
// to a validation rule in go-playground/validator tag syntax ("required",
// "required,email", "omitempty,min=1", ...).
//
// A key may be dynamic. "{attr}" resolves, at first validation, to the
// runtime value of the step's bound field named attr, re-keying the rule
// under that value. "+{attr}" resolves the same way and additionally marks
// the rule required. The literal braced key is removed once resolved,
// letting a step declare "the field named by whatever my table field holds"
// rather than a fixed key.
type Fields map[string]string

// validate is the shared schema validator. Validator instances cache rule
// parsing and are safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// resolveDynamic returns a copy of fields with every "{attr}"/"+{attr}" key
// replaced by the value of the corresponding bound field. A braced key that
// names no bound field is an error: the schema cannot be resolved.
func resolveDynamic(fields Fields, bound map[string]any) (Fields, error) {
	resolved := make(Fields, len(fields))
	for key, rule := range fields {
		mark := strings.HasPrefix(key, "+{")
		if !mark && !(strings.HasPrefix(key, "{") && strings.HasSuffix(key, "}")) {
			resolved[key] = rule
			continue
		}
		if !strings.HasSuffix(key, "}") {
			resolved[key] = rule
			continue
		}

		attr := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(key, "+"), "{"), "}")
		value, ok := bound[attr]
		if !ok {
			return nil, fmt.Errorf("dynamic field %q references unknown bound field %q", key, attr)
		}

		target := fmt.Sprintf("%v", value)
		if mark && !strings.Contains(rule, "required") {
			if rule == "" {
				rule = "required"
			} else {
				rule = "required," + rule
			}
		}
		resolved[target] = rule
	}
	return resolved, nil
}

// validateStore checks the store against an already-resolved schema and
// returns the store merged with the validated values. Rule violations are
// reported as a single error listing every offending field in sorted order.
func validateStore(fields Fields, store Store) (Store, error) {
	if len(fields) == 0 {
		return store, nil
	}

	rules := make(map[string]interface{}, len(fields))
	for key, rule := range fields {
		rules[key] = rule
	}

	data := store.Map()
	failures := validate.ValidateMap(data, rules)
	if len(failures) > 0 {
		keys := make([]string, 0, len(failures))
		for k := range failures {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for i, k := range keys {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "field %q: %v", k, failures[k])
		}
		return store, fmt.Errorf("%s", b.String())
	}

	// validator does not coerce values, so this merge is value-preserving;
	// it is the seam where schema-driven adaptation lands.
	adapted := make(map[string]any, len(fields))
	for key := range fields {
		if v, ok := store.Get(key); ok {
			adapted[key] = v
		}
	}
	return store.Merge(adapted), nil
}
