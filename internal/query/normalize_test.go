package query

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"   ", ""},
		{"Laptop", "laptop"},
		{"  iPhone 15 Pro  ", "iphone 15 pro"},
		{"wireless-headphones!!!", "wireless headphones"},
		{"gaming,laptop.deals", "gaming laptop deals"},
		{"a    b\t\nc", "a b c"},
		{"50% off shoes", "50 off shoes"},
		{"...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"iPhone 15 Pro!!",
		"  running   SHOES, size-10  ",
		"çafé crème",
		"best phones under 20000",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestKeywords_StopWordsRemoved(t *testing.T) {
	got := Keywords("iphone 15 pro 256gb")
	want := []string{"iphone", "15", "pro", "256gb"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keywords = %v, want %v", got, want)
	}
}

func TestKeywords_DropsStopWordsAndShortTokens(t *testing.T) {
	got := Keywords("the best of a b laptop for work")
	for _, kw := range got {
		if IsStopWord(kw) {
			t.Errorf("stop word %q not removed", kw)
		}
		if len(kw) <= 1 {
			t.Errorf("single-char token %q not removed", kw)
		}
	}
	want := []string{"best", "laptop", "work"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keywords = %v, want %v", got, want)
	}
}

func TestKeywords_Empty(t *testing.T) {
	if got := Keywords(""); got != nil {
		t.Errorf("expected nil keywords for empty query, got %v", got)
	}
}
