package ast

import "github.com/alecthomas/participle/v2/lexer"

// A signature file is a list of rules:
//
//	rule grafana (host: "grafana"; score: 55; category: "dashboard")
type Signature struct {
	Rules []*Rule `parser:"@@*"`
}

type Rule struct {
	Pos lexer.Position

	Name       string       `parser:"'rule' @(Ident | String)"`
	Attributes []*Attribute `parser:"'(' ( @@ ';'? )* ')'"`
}

type Attribute struct {
	Pos lexer.Position

	Key   string `parser:"@Ident ':'"`
	Value Value  `parser:"@@"`
}

type Value interface{ value() }

type Number struct {
	Number int `parser:"@Int"`
}

func (Number) value() {}

type List struct {
	Items []string `parser:"@(String | RawString) ( ',' @(String | RawString) )*"`
}

func (List) value() {}
