package phone

import (
	"reflect"
	"testing"
)

func TestCanonicalizeCollapsesEncodings(t *testing.T) {
	c := New("54", false)

	// Both provider encodings of the same Córdoba subscriber.
	inputs := []string{
		"5493518120950",  // mobile-prefixed wa_id form
		"54351158120950", // trunk-prefixed form
		"+5493518120950", // with plus
		"3518120950",     // bare area + local
		"03518120950",    // trunk zero, no 15
		"0054 9 351 812-0950",
	}
	const want = "+5493518120950"
	for _, in := range inputs {
		if got := c.Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	c := New("54", false)
	first := c.Canonicalize("54351158120950")
	if got := c.Canonicalize(first); got != first {
		t.Errorf("Canonicalize not idempotent: %q -> %q", first, got)
	}
}

func TestCanonicalizeBestEffort(t *testing.T) {
	c := New("54", false)
	if got := c.Canonicalize("12"); got != "+12" {
		t.Errorf("short input: got %q, want fallback %q", got, "+12")
	}
	if got := c.Canonicalize("no digits here"); got != "" {
		t.Errorf("digitless input: got %q, want empty", got)
	}
}

func TestSendCandidatesDefaultOrder(t *testing.T) {
	c := New("54", false)
	got := c.SendCandidates("54351158120950")
	want := []string{"5493518120950", "54351158120950"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SendCandidates = %v, want %v", got, want)
	}
}

func TestSendCandidatesTrunkFirst(t *testing.T) {
	c := New("54", true)
	got := c.SendCandidates("5493518120950")
	want := []string{"54351158120950", "5493518120950"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SendCandidates = %v, want %v", got, want)
	}
}

func TestSendCandidatesDeterministic(t *testing.T) {
	c := New("54", false)
	first := c.SendCandidates("+54 9 11 2345-6789")
	for i := 0; i < 5; i++ {
		if got := c.SendCandidates("+54 9 11 2345-6789"); !reflect.DeepEqual(got, first) {
			t.Fatalf("iteration %d: got %v, want %v", i, got, first)
		}
	}
}

func TestSendCandidatesShortAreaHeuristic(t *testing.T) {
	c := New("54", false)
	// 10 local digits keep the 3-digit area split; the trunk sibling follows it.
	got := c.SendCandidates("5491123456789")
	want := []string{"5491123456789", "54112153456789"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SendCandidates = %v, want %v", got, want)
	}
}

func TestDigits(t *testing.T) {
	if got := Digits(" +54 (351) 812-0950 "); got != "543518120950" {
		t.Errorf("Digits = %q", got)
	}
	if got := Digits(""); got != "" {
		t.Errorf("Digits(\"\") = %q", got)
	}
}
