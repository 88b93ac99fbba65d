package contacts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/emersion/go-vcard"

	"github.com/nugget/reeve/internal/config"
)

type fakeSource struct {
	contacts []Contact
	err      error
	query    string
}

func (f *fakeSource) Search(ctx context.Context, query string) ([]Contact, error) {
	f.query = query
	return f.contacts, f.err
}

func TestFromCard(t *testing.T) {
	card := vcard.Card{}
	card.SetValue(vcard.FieldFormattedName, "Ada Lovelace")
	card.AddValue(vcard.FieldEmail, "ada@example.net")
	card.AddValue(vcard.FieldEmail, "ada@work.example")
	card.AddValue(vcard.FieldTelephone, "+1 555 0100")

	ct := fromCard(card)
	if ct.Name != "Ada Lovelace" {
		t.Errorf("name = %q", ct.Name)
	}
	if len(ct.Emails) != 2 || ct.Emails[0] != "ada@example.net" {
		t.Errorf("emails = %v", ct.Emails)
	}
	if len(ct.Phones) != 1 {
		t.Errorf("phones = %v", ct.Phones)
	}
}

func TestFormatContacts(t *testing.T) {
	got := FormatContacts([]Contact{
		{Name: "Ada Lovelace", Emails: []string{"ada@example.net"}, Phones: []string{"+1 555 0100"}},
		{Name: "Charles Babbage"},
	})
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), got)
	}
	if lines[0] != "Ada Lovelace <ada@example.net> +1 555 0100" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "Charles Babbage" {
		t.Errorf("line 1 = %q", lines[1])
	}

	if got := FormatContacts(nil); got != "No matching contacts." {
		t.Errorf("empty = %q", got)
	}
}

func TestSearchHandler(t *testing.T) {
	src := &fakeSource{contacts: []Contact{{Name: "Ada Lovelace"}}}
	handler := searchHandler(src)

	out, err := handler(context.Background(), map[string]any{"query": "ada"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if src.query != "ada" {
		t.Errorf("query passed = %q", src.query)
	}
	if !strings.Contains(out.(string), "Ada Lovelace") {
		t.Errorf("output = %v", out)
	}
}

func TestSearchHandlerRequiresQuery(t *testing.T) {
	if _, err := searchHandler(&fakeSource{})(context.Background(), nil); err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestSearchHandlerError(t *testing.T) {
	src := &fakeSource{err: errors.New("unauthorized")}
	if _, err := searchHandler(src)(context.Background(), map[string]any{"query": "x"}); err == nil {
		t.Fatal("expected error from source")
	}
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities(&fakeSource{})
	if len(caps) != 1 || caps[0].Name != "contacts_search" {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}

func TestNewBuilderUnconfigured(t *testing.T) {
	b := NewBuilder(config.DAVConfig{}, nil)
	if _, err := b.Build(context.Background()); err == nil {
		t.Fatal("expected error when URL unset")
	}
}
