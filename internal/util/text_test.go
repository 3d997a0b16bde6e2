package util

import (
	"testing"
	"time"
)

func TestNormalizeColumn(t *testing.T) {
	cases := map[string]string{
		"Expiration Date":  "expiration_date",
		" FUND-NUMBER ":    "fund_number",
		"expiration__date": "expiration_date",
		"Cost":             "cost",
		"Name":             "name",
	}
	for in, want := range cases {
		if got := NormalizeColumn(in); got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}
}

func TestCellString(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  string
	}{
		{name: "string trimmed", input: "  A ", want: "A"},
		{name: "integral float", input: 12.0, want: "12"},
		{name: "fraction", input: 12.5, want: "12.5"},
		{name: "int", input: 7, want: "7"},
		{name: "int8", input: int8(-3), want: "-3"},
		{name: "int16", input: int16(300), want: "300"},
		{name: "uint8", input: uint8(9), want: "9"},
		{name: "uint16", input: uint16(10), want: "10"},
		{name: "uint32", input: uint32(4000000000), want: "4000000000"},
		{name: "string pointer", input: StringPtr(" B "), want: "B"},
		{name: "nil string pointer", input: (*string)(nil), want: ""},
		{name: "nil", input: nil, want: ""},
		{name: "date", input: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), want: "2024-03-09"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CellString(tc.input); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		input any
		ok    bool
	}{
		{name: "iso", input: "2024-03-09", ok: true},
		{name: "us", input: "03/09/2024", ok: true},
		{name: "short us", input: "3/9/2024", ok: true},
		{name: "excel formatted", input: "03-09-24", ok: true},
		{name: "excel serial", input: 45360.0, ok: true},
		{name: "time value", input: want, ok: true},
		{name: "garbage", input: "soon", ok: false},
		{name: "blank", input: "", ok: false},
		{name: "nil", input: nil, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseDate(tc.input)
			if ok != tc.ok {
				t.Fatalf("ok: got %v want %v", ok, tc.ok)
			}
			if ok && !Day(got).Equal(want) {
				t.Fatalf("got %v want %v", got, want)
			}
		})
	}
}
