package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{"no tags here", nil},
		{"hello #go world", []string{"go"}},
		{"#Go and #go again", []string{"go"}},
		{"#first then #second then #first", []string{"first", "second"}},
		{"unicode #ことり works", []string{"ことり"}},
		{"punct stops it: #go! #go?", []string{"go"}},
		{"#under_score ok", []string{"under_score"}},
		{"bare # is nothing", nil},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Extract(c.text), "text %q", c.text)
	}
}
