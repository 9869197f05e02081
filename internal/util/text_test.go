package util

import "testing"

func TestCleanLine(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "lowercase", input: "smith, john", want: "SMITH, JOHN"},
		{name: "noise", input: "  |123 Maple Ave.*  ", want: "123 MAPLE AVE."},
		{name: "crlf", input: "TUESDAY MAINT\r", want: "TUESDAY MAINT"},
		{name: "allowed punctuation", input: "a/b-c,d.e", want: "A/B-C,D.E"},
		{name: "all noise", input: "#### $$$ %%%", want: ""},
		{name: "tabs dropped", input: "\tPOOL\tOPENING", want: "POOLOPENING"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanLine(tc.input); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestCleanLineIdempotent(t *testing.T) {
	for _, in := range []string{"smith, JOHN", "12 oak rd.", "  vacuum / maint - 2 "} {
		once := CleanLine(in)
		if twice := CleanLine(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q", once, twice)
		}
	}
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"SMITH, JOHN":    "Smith, John",
		"123 MAPLE AVE":  "123 Maple Ave",
		"TUESDAY MAINT":  "Tuesday Maint",
		"MR.SMITH, JOHN": "Mr.Smith, John",
		"ST.JOHN RD":     "St.John Rd",
		"2ND AVE":        "2Nd Ave",
		"O-NEIL/SMITH":   "O-Neil/Smith",
		"":               "",
	}
	for in, want := range cases {
		if got := TitleCase(in); got != want {
			t.Fatalf("TitleCase(%q)=%q want %q", in, got, want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" rd, ave ,,Lane ")
	if len(got) != 3 || got[0] != "RD" || got[1] != "AVE" || got[2] != "LANE" {
		t.Fatalf("got %v", got)
	}
	if len(SplitList("")) != 0 {
		t.Fatal("expected empty list")
	}
}
