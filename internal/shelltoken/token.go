// Package shelltoken flattens a shell command line into an ordered sequence of word and operator tokens.
//
// It is intentionally lossy: the result only describes what can be reasoned about as a list of simple commands joined by control operators. Constructs that
// do not flatten (loops, conditionals, command substitution, arithmetic, non-trivial parameter expansion, ...) are rejected with an error, while globs and
// comments are reported with their own token kinds so a consumer can refuse them.
package shelltoken

import "fmt"

// Kind identifies the variant of a Token.
type Kind int

const (
	KindWord     Kind = iota // KindWord is a literal argument after quote removal and variable expansion.
	KindOperator             // KindOperator is a control or redirection operator (ex: "&&", "|", ";", ">", "&").
	KindGlob                 // KindGlob is an unquoted word containing pattern characters (ex: "*.go"). Text holds the pattern.
	KindComment              // KindComment is a "#" comment. Text holds the comment body.
)

func (k Kind) String() string {
	switch k {
	case KindWord:
		return "word"
	case KindOperator:
		return "operator"
	case KindGlob:
		return "glob"
	case KindComment:
		return "comment"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Token is one element of a tokenized shell line.
type Token struct {
	Kind Kind
	Text string
}

// Word returns a KindWord token.
func Word(text string) Token { return Token{Kind: KindWord, Text: text} }

// Operator returns a KindOperator token.
func Operator(symbol string) Token { return Token{Kind: KindOperator, Text: symbol} }

func (t Token) String() string {
	return t.Kind.String() + "(" + t.Text + ")"
}
