package cookies_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/domscope/internal/cookies"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []cookies.Cookie
	}{
		{
			name: "two cookies with whitespace",
			raw:  "a=1; b=2",
			want: []cookies.Cookie{{Name: "a", Value: "1", Size: 2}, {Name: "b", Value: "2", Size: 2}},
		},
		{
			name: "empty string",
			raw:  "",
			want: []cookies.Cookie{},
		},
		{
			name: "whitespace only",
			raw:  "  \t ",
			want: []cookies.Cookie{},
		},
		{
			name: "empty value",
			raw:  "a=",
			want: []cookies.Cookie{{Name: "a", Value: "", Size: 1}},
		},
		{
			name: "value containing equals",
			raw:  "token=x=y",
			want: []cookies.Cookie{{Name: "token", Value: "x=y", Size: 8}},
		},
		{
			name: "size in utf-16 code units",
			raw:  "é=1; k=😀",
			want: []cookies.Cookie{{Name: "é", Value: "1", Size: 2}, {Name: "k", Value: "😀", Size: 3}},
		},
		{
			name: "entry without equals",
			raw:  "flag;b=2",
			want: []cookies.Cookie{{Name: "", Value: "flag", Size: 4}, {Name: "b", Value: "2", Size: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cookies.Parse(tt.raw))
		})
	}
}
