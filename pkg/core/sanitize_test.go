package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"plain words pass through", "hello world", "hello world"},
		{"collapses whitespace", "  hello \t world\n", "hello world"},
		{"empty", "   ", ""},
		{"interior hyphen quoted", "write-ahead log", `"write-ahead" log`},
		{"leading hyphen alone untouched", "-verbose", "-verbose"},
		{"leading and interior hyphen quoted", "-write-ahead", `"-write-ahead"`},
		{"parens quoted", "f(x)", `"f(x)"`},
		{"brackets quoted", "[section] {block}", `"[section]" "{block}"`},
		{"embedded quote doubled", `say "hi"-there`, `say """hi""-there"`},
		{"mixed", "plain write-ahead (grouped)", `plain "write-ahead" "(grouped)"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeQuery(tt.query))
		})
	}
}
