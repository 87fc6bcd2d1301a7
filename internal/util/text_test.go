package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanCell(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  string
	}{
		{name: "nil", input: nil, want: ""},
		{name: "trimmed", input: "  Flat 4, MG Road \t", want: "Flat 4, MG Road"},
		{name: "nbsp", input: "\u00a0Pune\u00a0", want: "Pune"},
		{name: "integral float", input: 411001.0, want: "411001"},
		{name: "fractional float", input: 12.5, want: "12.5"},
		{name: "int", input: 42, want: "42"},
		{name: "none", input: "None", want: ""},
		{name: "nan", input: " nan ", want: ""},
		{name: "null upper", input: "NULL", want: ""},
		{name: "decomposed accent", input: "Jose\u0301", want: "Jos\u00e9"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanCell(tc.input))
		})
	}
}

func TestRuneLen(t *testing.T) {
	assert.Equal(t, 2, RuneLen("अब"))
	assert.Equal(t, 0, RuneLen(""))
}

func TestNormalizeSpaces(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeSpaces("  a \n b\t\tc "))
}
