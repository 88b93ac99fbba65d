// Package contacts searches a CardDAV address book and exposes the
// contact lookup capability.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/httpkit"
)

// Contact is an address book entry flattened for presentation.
type Contact struct {
	Name   string
	Emails []string
	Phones []string
}

// Source searches the address book. Implemented by Client and by test
// fakes.
type Source interface {
	Search(ctx context.Context, query string) ([]Contact, error)
}

// Client searches a CardDAV server with basic auth.
type Client struct {
	dav    *carddav.Client
	logger *slog.Logger
}

// NewClient creates a CardDAV client for the configured endpoint.
func NewClient(cfg config.DAVConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := webdav.HTTPClientWithBasicAuth(
		httpkit.NewClient(httpkit.WithTimeout(30*time.Second)),
		cfg.Username, cfg.Password,
	)
	dav, err := carddav.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("carddav client: %w", err)
	}
	return &Client{
		dav:    dav,
		logger: logger.With("component", "contacts"),
	}, nil
}

// Search queries all address books for cards whose formatted name
// contains the query.
func (c *Client) Search(ctx context.Context, query string) ([]Contact, error) {
	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.dav.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find address book home: %w", err)
	}
	books, err := c.dav.FindAddressBooks(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("list address books: %w", err)
	}

	davQuery := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{
			Props: []string{vcard.FieldFormattedName, vcard.FieldEmail, vcard.FieldTelephone},
		},
		PropFilters: []carddav.PropFilter{{
			Name:        vcard.FieldFormattedName,
			TextMatches: []carddav.TextMatch{{Text: query}},
		}},
		Limit: 25,
	}

	var found []Contact
	for _, book := range books {
		objects, err := c.dav.QueryAddressBook(ctx, book.Path, davQuery)
		if err != nil {
			c.logger.Warn("address book query failed", "book", book.Name, "error", err)
			continue
		}
		for _, obj := range objects {
			found = append(found, fromCard(obj.Card))
		}
	}
	return found, nil
}

func fromCard(card vcard.Card) Contact {
	return Contact{
		Name:   card.PreferredValue(vcard.FieldFormattedName),
		Emails: card.Values(vcard.FieldEmail),
		Phones: card.Values(vcard.FieldTelephone),
	}
}

// FormatContacts renders search results for the model.
func FormatContacts(contacts []Contact) string {
	if len(contacts) == 0 {
		return "No matching contacts."
	}

	var b strings.Builder
	for _, ct := range contacts {
		b.WriteString(ct.Name)
		if len(ct.Emails) > 0 {
			fmt.Fprintf(&b, " <%s>", strings.Join(ct.Emails, ", "))
		}
		if len(ct.Phones) > 0 {
			fmt.Fprintf(&b, " %s", strings.Join(ct.Phones, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewBuilder returns the capability builder for contact search.
func NewBuilder(cfg config.DAVConfig, logger *slog.Logger) capability.Builder {
	return capability.Builder{
		Name: "contacts",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if cfg.URL == "" {
				return nil, fmt.Errorf("carddav not configured")
			}
			c, err := NewClient(cfg, logger)
			if err != nil {
				return nil, err
			}
			return Capabilities(c), nil
		},
	}
}

// Capabilities returns the contact search capability backed by src.
func Capabilities(src Source) []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "contacts_search",
			Description: "Search the address book by name. Returns emails and phone numbers.",
			Domain:      capability.DomainPersonal,
			Params: []capability.Param{
				{Name: "query", Type: "string", Description: "Name or partial name", Required: true},
			},
			Handler: searchHandler(src),
		},
	}
}

func searchHandler(src Source) capability.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("query is required")
		}
		contacts, err := src.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		return FormatContacts(contacts), nil
	}
}
