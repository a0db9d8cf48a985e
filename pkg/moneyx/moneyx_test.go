package moneyx

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRound2(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2.022", "2.02"},
		{"2.025", "2.02"},
		{"2.035", "2.04"},
		{"2.0251", "2.03"},
		{"-2.025", "-2.02"},
		{"1000", "1000"},
	}
	for _, c := range cases {
		in, err := decimal.NewFromString(c.in)
		if err != nil {
			t.Fatal(err)
		}
		got := Round2(in)
		want, _ := decimal.NewFromString(c.want)
		if got.Cmp(want) != 0 {
			t.Fatalf("Round2(%s)=%s want %s", c.in, got, c.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if _, err := ParseAmount("  "); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("invalid", func(t *testing.T) {
		if _, err := ParseAmount("12,5"); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("ok", func(t *testing.T) {
		d, err := ParseAmount(" 20.22 ")
		if err != nil {
			t.Fatal(err)
		}
		if d.String() != "20.22" {
			t.Fatalf("got=%s", d)
		}
	})
}
