// Package diff compares the before and after of a change for display. Nothing
// here is applied to a document.
package diff

import (
	"regexp"
	"strings"
)

// Op is the kind of a diff token
type Op string

const (
	Equal  Op = "equal"
	Insert Op = "insert"
	Delete Op = "delete"
)

// Token is one word or whitespace run with its diff operation
type Token struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`
}

var tokenPattern = regexp.MustCompile(`\s+|\S+`)

// Tokenize splits s into alternating word and whitespace tokens, so that
// joining the tokens gives back s.
func Tokenize(s string) []string {
	return tokenPattern.FindAllString(s, -1)
}

// Words returns the word-level diff from a to b using a longest common
// subsequence table. Deletions are emitted before insertions at each point of
// divergence.
func Words(a, b string) []Token {
	x, y := Tokenize(a), Tokenize(b)
	n, m := len(x), len(y)

	// lcs[i][j] is the LCS length of x[i:] and y[j:]
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if x[i] == y[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	tokens := make([]Token, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case x[i] == y[j]:
			tokens = append(tokens, Token{Op: Equal, Text: x[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			tokens = append(tokens, Token{Op: Delete, Text: x[i]})
			i++
		default:
			tokens = append(tokens, Token{Op: Insert, Text: y[j]})
			j++
		}
	}
	for ; i < n; i++ {
		tokens = append(tokens, Token{Op: Delete, Text: x[i]})
	}
	for ; j < m; j++ {
		tokens = append(tokens, Token{Op: Insert, Text: y[j]})
	}
	return tokens
}

// Merge joins adjacent tokens with the same operation
func Merge(tokens []Token) []Token {
	var out []Token
	for _, t := range tokens {
		if len(out) > 0 && out[len(out)-1].Op == t.Op {
			out[len(out)-1].Text += t.Text
			continue
		}
		out = append(out, t)
	}
	return out
}

// Side reconstructs the old (Delete+Equal) or new (Insert+Equal) text
func Side(tokens []Token, op Op) string {
	var b strings.Builder
	for _, t := range tokens {
		if t.Op == Equal || t.Op == op {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
