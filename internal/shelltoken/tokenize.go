package shelltoken

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ErrUnsupported is returned (wrapped) when the line contains a construct that can't be flattened into tokens.
var ErrUnsupported = errors.New("shelltoken: unsupported shell construct")

// Tokenizer parses bash command lines. The zero value is ready to use, and it is safe for concurrent use.
type Tokenizer struct{}

// New returns a Tokenizer.
func New() *Tokenizer {
	return &Tokenizer{}
}

// Tokenize parses line as bash and flattens it into tokens. env is consulted for "$NAME" / "${NAME}" expansion; unset names expand to "". An unquoted
// expansion must yield non-empty text free of whitespace and glob characters, since bash would otherwise split, drop or glob it. A parse error,
// or any construct other than simple commands, pipelines, lists, subshells, groups and redirections, results in an error.
//
// Subshells and groups are reported as the words "(" ")" and "{" "}", statement separators as the operator ";", background jobs as "&", and negation as
// "!".
func (t *Tokenizer) Tokenize(line string, env map[string]string) ([]Token, error) {
	parser := syntax.NewParser(syntax.KeepComments(true), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, fmt.Errorf("shelltoken: parse: %w", err)
	}

	w := &walker{env: env}
	if err := w.stmts(file.Stmts); err != nil {
		return nil, err
	}
	if len(file.Last) > 0 {
		w.emit(Token{Kind: KindComment, Text: file.Last[0].Text})
	}
	return w.out, nil
}

// Tokenize is shorthand for New().Tokenize(line, env).
func Tokenize(line string, env map[string]string) ([]Token, error) {
	return New().Tokenize(line, env)
}

// EnvFromOS returns the process environment as a map.
func EnvFromOS() map[string]string {
	environ := os.Environ()
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		env[name] = value
	}
	return env
}

type walker struct {
	env map[string]string
	out []Token
}

func (w *walker) emit(toks ...Token) {
	w.out = append(w.out, toks...)
}

func (w *walker) stmts(list []*syntax.Stmt) error {
	for i, s := range list {
		if err := w.stmt(s); err != nil {
			return err
		}
		switch {
		case s.Background:
			w.emit(Operator("&"))
		case i < len(list)-1 || s.Semicolon.IsValid():
			w.emit(Operator(";"))
		}
	}
	return nil
}

// piece is a run of tokens anchored at a source offset, so call arguments and redirections come out in source order.
type piece struct {
	offset uint
	toks   []Token
}

func (w *walker) stmt(s *syntax.Stmt) error {
	if s.Coprocess {
		return fmt.Errorf("%w: coproc", ErrUnsupported)
	}
	if s.Negated {
		w.emit(Operator("!"))
	}

	var pieces []piece
	switch c := s.Cmd.(type) {
	case nil:
	case *syntax.CallExpr:
		for _, a := range c.Assigns {
			tok, err := w.assign(a)
			if err != nil {
				return err
			}
			pieces = append(pieces, piece{offset: a.Pos().Offset(), toks: []Token{tok}})
		}
		for _, arg := range c.Args {
			tok, err := w.word(arg)
			if err != nil {
				return err
			}
			pieces = append(pieces, piece{offset: arg.Pos().Offset(), toks: []Token{tok}})
		}
	case *syntax.BinaryCmd:
		if err := w.stmt(c.X); err != nil {
			return err
		}
		w.emit(Operator(c.Op.String()))
		if err := w.stmt(c.Y); err != nil {
			return err
		}
	case *syntax.Subshell:
		w.emit(Word("("))
		if err := w.stmts(c.Stmts); err != nil {
			return err
		}
		w.emit(Word(")"))
	case *syntax.Block:
		w.emit(Word("{"))
		if err := w.stmts(c.Stmts); err != nil {
			return err
		}
		w.emit(Word("}"))
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, s.Cmd)
	}

	for _, r := range s.Redirs {
		op := r.Op.String()
		if r.N != nil {
			op = r.N.Value + op
		}
		toks := []Token{Operator(op)}
		if r.Word != nil {
			tok, err := w.word(r.Word)
			if err != nil {
				return err
			}
			toks = append(toks, tok)
		}
		pieces = append(pieces, piece{offset: r.Pos().Offset(), toks: toks})
	}

	sort.SliceStable(pieces, func(i, j int) bool { return pieces[i].offset < pieces[j].offset })
	for _, p := range pieces {
		w.emit(p.toks...)
	}

	if len(s.Comments) > 0 {
		w.emit(Token{Kind: KindComment, Text: s.Comments[0].Text})
	}
	return nil
}

func (w *walker) assign(a *syntax.Assign) (Token, error) {
	if a.Append || a.Naked || a.Index != nil || a.Array != nil || a.Name == nil {
		return Token{}, fmt.Errorf("%w: complex assignment", ErrUnsupported)
	}
	value := ""
	if a.Value != nil {
		tok, err := w.word(a.Value)
		if err != nil {
			return Token{}, err
		}
		if tok.Kind == KindGlob {
			return Token{Kind: KindGlob, Text: a.Name.Value + "=" + tok.Text}, nil
		}
		value = tok.Text
	}
	return Word(a.Name.Value + "=" + value), nil
}

// word performs quote removal and simple parameter expansion on wd. The result is KindGlob if an unquoted part contains pattern characters.
func (w *walker) word(wd *syntax.Word) (Token, error) {
	var b strings.Builder
	glob := false

	for _, part := range wd.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			if hasUnescapedPattern(p.Value) {
				glob = true
			}
			b.WriteString(unescapeUnquoted(p.Value))
		case *syntax.SglQuoted:
			if p.Dollar {
				return Token{}, fmt.Errorf("%w: $'...' quoting", ErrUnsupported)
			}
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			if p.Dollar {
				return Token{}, fmt.Errorf("%w: $\"...\" quoting", ErrUnsupported)
			}
			for _, inner := range p.Parts {
				switch ip := inner.(type) {
				case *syntax.Lit:
					b.WriteString(unescapeDouble(ip.Value))
				case *syntax.ParamExp:
					v, err := w.param(ip)
					if err != nil {
						return Token{}, err
					}
					b.WriteString(v)
				default:
					return Token{}, fmt.Errorf("%w: %T in double quotes", ErrUnsupported, inner)
				}
			}
		case *syntax.ParamExp:
			v, err := w.param(p)
			if err != nil {
				return Token{}, err
			}
			if err := checkUnquotedValue(p.Param.Value, v); err != nil {
				return Token{}, err
			}
			b.WriteString(v)
		default:
			return Token{}, fmt.Errorf("%w: %T", ErrUnsupported, part)
		}
	}

	if glob {
		return Token{Kind: KindGlob, Text: b.String()}, nil
	}
	return Word(b.String()), nil
}

func (w *walker) param(p *syntax.ParamExp) (string, error) {
	if p.Excl || p.Length || p.Width || p.Index != nil || p.Slice != nil || p.Repl != nil || p.Names != 0 || p.Exp != nil || p.Param == nil {
		return "", fmt.Errorf("%w: parameter expansion operator", ErrUnsupported)
	}
	name := p.Param.Value
	if !isVarName(name) {
		return "", fmt.Errorf("%w: special parameter $%s", ErrUnsupported, name)
	}
	return w.env[name], nil
}

// checkUnquotedValue rejects the value of an unquoted expansion unless bash would keep it as literal text within the word. Empty values, IFS
// characters and pattern characters all change the resulting argv.
func checkUnquotedValue(name, value string) error {
	if value == "" || strings.ContainsAny(value, " \t\n*?[") {
		return fmt.Errorf("%w: unquoted $%s expands to %q", ErrUnsupported, name, value)
	}
	return nil
}

func isVarName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// hasUnescapedPattern reports whether an unquoted literal contains glob or brace-expansion syntax that isn't backslash-escaped.
func hasUnescapedPattern(s string) bool {
	openBrace := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '*', '?', '[':
			return true
		case '{':
			openBrace = true
		case '}':
			if openBrace {
				return true
			}
		}
	}
	return false
}

// unescapeUnquoted removes backslash escapes from an unquoted literal. A backslash-newline pair is a line continuation and is dropped.
func unescapeUnquoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == '\n' {
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// unescapeDouble removes the backslash escapes that are meaningful inside double quotes: \$ \` \" \\ and backslash-newline.
func unescapeDouble(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '$', '`', '"', '\\':
				i++
			case '\n':
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
