package render

import (
	"fmt"
	"strconv"
	"strings"
)

type node interface{}

type textNode struct{ text string }

type varNode struct {
	path []string
	line int
}

type ifNode struct {
	cond condition
	then []node
	els  []node
}

type forNode struct {
	name string
	list []string
	body []node
	line int
}

// operand is either a dotted path into the data or a literal.
type operand struct {
	path []string
	lit  any
}

type condition struct {
	negate bool
	left   operand
	op     string
	right  *operand
}

type parser struct {
	toks []token
	pos  int
}

// parseList consumes tokens until one of the tags in ends is reached and
// returns the collected nodes with the tag that stopped it.
func (p *parser) parseList(ends ...string) ([]node, string, error) {
	var out []node
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		p.pos++

		switch t.kind {
		case tokText:
			out = append(out, textNode{text: t.val})

		case tokVar:
			path, err := parsePath(t.val)
			if err != nil {
				return nil, "", fmt.Errorf("render: line %d: %w", t.line, err)
			}
			out = append(out, varNode{path: path, line: t.line})

		case tokTag:
			kw, rest := splitKeyword(t.val)
			for _, end := range ends {
				if kw == end {
					if rest != "" {
						return nil, "", fmt.Errorf("render: line %d: unexpected %q after %s", t.line, rest, kw)
					}
					return out, kw, nil
				}
			}

			switch kw {
			case "if":
				n, err := p.parseIf(rest, t.line)
				if err != nil {
					return nil, "", err
				}
				out = append(out, n)
			case "for":
				n, err := p.parseFor(rest, t.line)
				if err != nil {
					return nil, "", err
				}
				out = append(out, n)
			default:
				return nil, "", fmt.Errorf("render: line %d: unexpected tag %q", t.line, kw)
			}
		}
	}
	if len(ends) > 0 {
		return nil, "", fmt.Errorf("render: missing {%% %s %%}", ends[len(ends)-1])
	}
	return out, "", nil
}

func (p *parser) parseIf(expr string, line int) (node, error) {
	cond, err := parseCondition(expr)
	if err != nil {
		return nil, fmt.Errorf("render: line %d: %w", line, err)
	}
	n := &ifNode{cond: cond}
	var end string
	n.then, end, err = p.parseList("else", "endif")
	if err != nil {
		return nil, err
	}
	if end == "else" {
		if n.els, _, err = p.parseList("endif"); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (p *parser) parseFor(expr string, line int) (node, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 || fields[1] != "in" || !isIdent(fields[0]) {
		return nil, fmt.Errorf("render: line %d: for expects \"name in list\", got %q", line, expr)
	}
	list, err := parsePath(fields[2])
	if err != nil {
		return nil, fmt.Errorf("render: line %d: %w", line, err)
	}
	body, _, err := p.parseList("endfor")
	if err != nil {
		return nil, err
	}
	return &forNode{name: fields[0], list: list, body: body, line: line}, nil
}

func splitKeyword(s string) (string, string) {
	kw, rest, _ := strings.Cut(s, " ")
	return kw, strings.TrimSpace(rest)
}

func parsePath(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("empty expression")
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if !isIdent(p) {
			return nil, fmt.Errorf("invalid expression %q", s)
		}
	}
	return parts, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

var comparisonOps = []string{">=", "<=", "==", "!=", ">", "<"}

// parseCondition accepts `[not] operand [op operand]`.
func parseCondition(expr string) (condition, error) {
	toks, err := splitCondition(expr)
	if err != nil {
		return condition{}, err
	}
	var c condition
	if len(toks) > 0 && toks[0] == "not" {
		c.negate = true
		toks = toks[1:]
	}
	switch len(toks) {
	case 1:
		left, err := parseOperand(toks[0])
		if err != nil {
			return condition{}, err
		}
		c.left = left
	case 3:
		if !isOp(toks[1]) {
			return condition{}, fmt.Errorf("unknown operator %q", toks[1])
		}
		left, err := parseOperand(toks[0])
		if err != nil {
			return condition{}, err
		}
		right, err := parseOperand(toks[2])
		if err != nil {
			return condition{}, err
		}
		c.left, c.op, c.right = left, toks[1], &right
	default:
		return condition{}, fmt.Errorf("invalid condition %q", expr)
	}
	return c, nil
}

// splitCondition tokenizes a condition into operands and operators,
// keeping quoted strings intact.
func splitCondition(expr string) ([]string, error) {
	var out []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"' || c == '\'':
			j := strings.IndexByte(expr[i+1:], c)
			if j < 0 {
				return nil, fmt.Errorf("unterminated string in %q", expr)
			}
			out = append(out, expr[i:i+j+2])
			i += j + 2
		case strings.ContainsRune("<>=!", rune(c)):
			op := string(c)
			if i+1 < len(expr) && expr[i+1] == '=' {
				op += "="
			}
			out = append(out, op)
			i += len(op)
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t<>=!\"'", rune(expr[j])) {
				j++
			}
			out = append(out, expr[i:j])
			i = j
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	return out, nil
}

func isOp(s string) bool {
	for _, op := range comparisonOps {
		if s == op {
			return true
		}
	}
	return false
}

func parseOperand(s string) (operand, error) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') {
		return operand{lit: s[1 : len(s)-1]}, nil
	}
	if s[0] == '-' || (s[0] >= '0' && s[0] <= '9') {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q", s)
		}
		return operand{lit: n}, nil
	}
	switch s {
	case "true":
		return operand{lit: true}, nil
	case "false":
		return operand{lit: false}, nil
	}
	path, err := parsePath(s)
	if err != nil {
		return operand{}, err
	}
	return operand{path: path}, nil
}
