package flows

import (
	"reflect"
	"testing"
)

func TestParseCoinCaption(t *testing.T) {
	tests := []struct {
		in         string
		name       string
		ticker     string
		ok         bool
	}{
		{"Doge (DOGE)", "Doge", "DOGE", true},
		{"Doge ($DOGE)", "Doge", "DOGE", true},
		{"  My Great Coin  ( mgc )", "My Great Coin", "MGC", true},
		{"Doge(DOGE)", "Doge", "DOGE", true},
		{"Pepe 2.0 (PEPE2)", "Pepe 2.0", "PEPE2", true},
		{"just some text", "", "", false},
		{"(DOGE)", "", "", false},
		{"Doge (TOOLONGTICK)", "", "", false},
		{"Doge (DO GE)", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		name, ticker, ok := ParseCoinCaption(tt.in)
		if ok != tt.ok || name != tt.name || ticker != tt.ticker {
			t.Errorf("ParseCoinCaption(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, name, ticker, ok, tt.name, tt.ticker, tt.ok)
		}
	}
}

func TestValidTicker(t *testing.T) {
	valid := []string{"DOGE", "A", "PEPE2", "12345678"}
	invalid := []string{"", "doge", "TOOLONGTK", "DO GE", "DOGE!"}
	for _, s := range valid {
		if !ValidTicker(s) {
			t.Errorf("ValidTicker(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if ValidTicker(s) {
			t.Errorf("ValidTicker(%q) = true", s)
		}
	}
}

func TestExtractHandles(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"split with @alice and @bob", []string{"alice", "bob"}},
		{"@alice @Alice @ALICE", []string{"alice"}}, // case-insensitive dedupe
		{"@alice.eth and @bob_1", []string{"alice.eth", "bob_1"}},
		{"no handles here", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := ExtractHandles(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExtractHandles(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMentionsEveryone(t *testing.T) {
	yes := []string{"add everyone here", "Everybody in!", "split it between all of us", "the whole group"}
	no := []string{"just me and @bob", "every now and then", ""}
	for _, s := range yes {
		if !mentionsEveryone(s) {
			t.Errorf("mentionsEveryone(%q) = false", s)
		}
	}
	for _, s := range no {
		if mentionsEveryone(s) {
			t.Errorf("mentionsEveryone(%q) = true", s)
		}
	}
}
