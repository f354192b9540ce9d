package cliparse

import (
	"reflect"
	"testing"
)

func TestSplitLine_Empty(t *testing.T) {
	for _, in := range []string{"", "   "} {
		got, err := SplitLine(in)
		if err != nil {
			t.Fatalf("SplitLine(%q): %v", in, err)
		}
		if len(got) != 0 {
			t.Fatalf("SplitLine(%q) = %#v, want empty", in, got)
		}
	}
}

func TestSplitLine(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"status", []string{"status"}},
		{`write "*IDN?"`, []string{"write", "*IDN?"}},
		{`ask "SOUR1:FUNC SIN"`, []string{"ask", "SOUR1:FUNC SIN"}},
	}
	for _, tc := range cases {
		got, err := SplitLine(tc.in)
		if err != nil {
			t.Fatalf("SplitLine(%q): %v", tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("SplitLine(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestSplitLine_UnterminatedQuote(t *testing.T) {
	if _, err := SplitLine(`write "unterminated`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}
