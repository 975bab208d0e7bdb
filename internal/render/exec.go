package render

import (
	"fmt"
	"strconv"
	"strings"
)

// scope resolves names, innermost loop variable first.
type scope struct {
	vars   map[string]any
	parent *scope
}

func (s *scope) get(name string) (any, bool) {
	for c := s; c != nil; c = c.parent {
		if v, ok := c.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (s *scope) resolve(path []string) any {
	v, _ := s.get(path[0])
	for _, seg := range path[1:] {
		if v == nil {
			return nil
		}
		if seg == "length" {
			if n, ok := length(v); ok {
				v = n
				continue
			}
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[seg]
	}
	return v
}

func execNodes(b *strings.Builder, nodes []node, sc *scope) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			b.WriteString(n.text)
		case varNode:
			b.WriteString(stringify(sc.resolve(n.path)))
		case *ifNode:
			ok, err := n.cond.eval(sc)
			if err != nil {
				return err
			}
			branch := n.els
			if ok {
				branch = n.then
			}
			if err := execNodes(b, branch, sc); err != nil {
				return err
			}
		case *forNode:
			v := sc.resolve(n.list)
			if v == nil {
				continue
			}
			items, ok := asList(v)
			if !ok {
				return fmt.Errorf("render: line %d: %s is not a list", n.line, strings.Join(n.list, "."))
			}
			for _, item := range items {
				inner := &scope{vars: map[string]any{n.name: item}, parent: sc}
				if err := execNodes(b, n.body, inner); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("render: unknown node %T", n)
		}
	}
	return nil
}

func (o operand) value(sc *scope) any {
	if o.path == nil {
		return o.lit
	}
	return sc.resolve(o.path)
}

func (c condition) eval(sc *scope) (bool, error) {
	left := c.left.value(sc)
	var result bool
	if c.right == nil {
		result = truthy(left)
	} else {
		r, err := compare(left, c.op, c.right.value(sc))
		if err != nil {
			return false, err
		}
		result = r
	}
	if c.negate {
		return !result, nil
	}
	return result, nil
}

func compare(a any, op string, b any) (bool, error) {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch op {
			case ">":
				return x > y, nil
			case "<":
				return x < y, nil
			case ">=":
				return x >= y, nil
			case "<=":
				return x <= y, nil
			case "==":
				return x == y, nil
			case "!=":
				return x != y, nil
			}
		}
	}
	sa, sb := stringify(a), stringify(b)
	switch op {
	case "==":
		return sa == sb, nil
	case "!=":
		return sa != sb, nil
	case ">":
		return sa > sb, nil
	case "<":
		return sa < sb, nil
	case ">=":
		return sa >= sb, nil
	case "<=":
		return sa <= sb, nil
	}
	return false, fmt.Errorf("render: unknown operator %q", op)
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}
	if n, ok := number(v); ok {
		return n != 0
	}
	if n, ok := length(v); ok {
		return n > 0
	}
	return true
}

func number(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func length(v any) (int, bool) {
	switch v := v.(type) {
	case string:
		return len([]rune(v)), true
	case []string:
		return len(v), true
	case []any:
		return len(v), true
	case []map[string]any:
		return len(v), true
	case map[string]any:
		return len(v), true
	}
	return 0, false
}

func asList(v any) ([]any, bool) {
	switch v := v.(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	}
	return nil, false
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if items, ok := asList(v); ok {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}
