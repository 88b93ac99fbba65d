package speech

import "testing"

func TestPlainTextStripsEmphasis(t *testing.T) {
	got := PlainText("All **systems** are *healthy*.")
	want := "All systems are healthy."
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestPlainTextHeadingsAndLists(t *testing.T) {
	in := "## Status\n\n- CPU fine\n- RAM fine\n"
	got := PlainText(in)
	want := "Status\nCPU fine\nRAM fine"
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestPlainTextLinksReduceToText(t *testing.T) {
	got := PlainText("See [the dashboard](https://grafana.local) for details.")
	want := "See the dashboard for details."
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestPlainTextInlineCode(t *testing.T) {
	got := PlainText("Restart with `systemctl restart unifi`.")
	want := "Restart with systemctl restart unifi."
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestPlainTextSoftBreaksJoin(t *testing.T) {
	got := PlainText("one\ntwo")
	want := "one two"
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestPlainTextPassthrough(t *testing.T) {
	in := "All quiet. Nothing needs attention."
	if got := PlainText(in); got != in {
		t.Errorf("PlainText = %q, want unchanged", got)
	}
}
