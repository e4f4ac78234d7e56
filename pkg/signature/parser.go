package signature

import (
	"io"
	"regexp"

	"github.com/alecthomas/participle/v2"
	"github.com/pkg/errors"
	"github.com/vigil/pkg/ast"
)

type Parser struct {
	parser *participle.Parser[ast.Signature]
}

func NewParser() *Parser {
	p := participle.MustBuild[ast.Signature](
		participle.Unquote("String", "RawString"),
		participle.Union[ast.Value](ast.Number{}, ast.List{}),
	)
	return &Parser{parser: p}
}

func (p *Parser) Parse(name string, r io.Reader) (*Signature, error) {
	sig, err := p.parser.Parse(name, r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse signature %s", name)
	}
	return p.bind(name, sig)
}

func (p *Parser) ParseString(name, s string) (*Signature, error) {
	sig, err := p.parser.ParseString(name, s)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse signature %s", name)
	}
	return p.bind(name, sig)
}

// Converts the AST into compiled rules
func (p *Parser) bind(name string, s *ast.Signature) (*Signature, error) {
	sig := &Signature{name: name}
	for _, r := range s.Rules {
		rule, err := bindRule(r)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: rule %s", r.Pos, r.Name)
		}
		sig.rules = append(sig.rules, rule)
	}
	return sig, nil
}

func bindRule(r *ast.Rule) (*Rule, error) {
	rule := &Rule{Name: r.Name}
	for _, attr := range r.Attributes {
		if err := rule.set(attr); err != nil {
			return nil, errors.Wrapf(err, "%s: %s", attr.Pos, attr.Key)
		}
	}

	if !rule.hasCondition() {
		return nil, errors.New("rule has no condition")
	}
	if rule.Value != nil && rule.Header == "" {
		return nil, errors.New("value requires a header")
	}
	if len(rule.Categories) == 0 && rule.Score == 0 && rule.Note == "" {
		return nil, errors.New("rule contributes nothing")
	}
	return rule, nil
}

func (r *Rule) set(attr *ast.Attribute) error {
	switch attr.Key {
	case "host":
		return compileInto(&r.Host, attr.Value)
	case "path":
		return compileInto(&r.Path, attr.Value)
	case "title":
		return compileInto(&r.Title, attr.Value)
	case "value":
		return compileInto(&r.Value, attr.Value)
	case "header":
		s, err := single(attr.Value)
		r.Header = s
		return err
	case "note":
		s, err := single(attr.Value)
		r.Note = s
		return err
	case "category":
		l, ok := attr.Value.(ast.List)
		if !ok {
			return errors.New("expected one or more strings")
		}
		r.Categories = append(r.Categories, l.Items...)
		return nil
	case "status":
		n, ok := attr.Value.(ast.Number)
		if !ok {
			return errors.New("expected a number")
		}
		r.Status = n.Number
		return nil
	case "score":
		n, ok := attr.Value.(ast.Number)
		if !ok {
			return errors.New("expected a number")
		}
		r.Score = n.Number
		return nil
	}
	return errors.New("unknown attribute")
}

func single(v ast.Value) (string, error) {
	l, ok := v.(ast.List)
	if !ok || len(l.Items) != 1 {
		return "", errors.New("expected a string")
	}
	return l.Items[0], nil
}

func compileInto(dst **regexp.Regexp, v ast.Value) error {
	s, err := single(v)
	if err != nil {
		return err
	}
	re, err := regexp.Compile("(?i)" + s)
	if err != nil {
		return errors.Wrap(err, "invalid expression")
	}
	*dst = re
	return nil
}
