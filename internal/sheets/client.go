// Package sheets reads raw tab values from the Google Sheets API using a
// service account.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/danielpatrickdp/sheetwise/internal/errs"
)

// #region types

// Credentials identify the service account used for read-only access.
type Credentials struct {
	ClientEmail string
	PrivateKey  string // PEM, literal newlines
}

// Tab describes one sheet in the spreadsheet.
type Tab struct {
	Title  string
	Index  int64
	Hidden bool
}

// Client fetches values from one spreadsheet.
type Client struct {
	spreadsheetID string
	svc           *sheetsapi.Service
}

// #endregion types

// #region constructor

// NewClient authenticates with a service-account JWT and scopes the client
// to read-only access. Missing identifiers fail with a ConfigError.
// Extra options are appended after the credentials, so tests can override
// the endpoint and transport.
func NewClient(ctx context.Context, spreadsheetID string, creds Credentials, opts ...option.ClientOption) (*Client, error) {
	var missing []string
	if spreadsheetID == "" {
		missing = append(missing, "SPREADSHEET_ID")
	}
	if creds.ClientEmail == "" {
		missing = append(missing, "GOOGLE_CLIENT_EMAIL")
	}
	if creds.PrivateKey == "" {
		missing = append(missing, "GOOGLE_PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return nil, &errs.ConfigError{Keys: missing}
	}

	conf := &jwt.Config{
		Email:      creds.ClientEmail,
		PrivateKey: []byte(creds.PrivateKey),
		Scopes:     []string{sheetsapi.SpreadsheetsReadonlyScope},
		TokenURL:   google.JWTTokenURL,
	}
	all := append([]option.ClientOption{option.WithHTTPClient(conf.Client(ctx))}, opts...)
	return newClient(ctx, spreadsheetID, all...)
}

// NewClientWithOptions builds a client from raw API options with no
// service-account setup. Used by tests against an httptest server.
func NewClientWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	if spreadsheetID == "" {
		return nil, &errs.ConfigError{Keys: []string{"SPREADSHEET_ID"}}
	}
	return newClient(ctx, spreadsheetID, opts...)
}

func newClient(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{spreadsheetID: spreadsheetID, svc: svc}, nil
}

// #endregion constructor

// #region rows

// Rows returns the raw cell grid of a tab. Numbers come back unformatted,
// dates as their displayed string.
func (c *Client) Rows(ctx context.Context, tab string) ([][]any, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, QuoteRange(tab)).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).
		Do()
	if err != nil {
		return nil, &errs.TransportError{Op: fmt.Sprintf("values.get %q", tab), Err: err}
	}
	return resp.Values, nil
}

// #endregion rows

// #region tabs

// Tabs lists every sheet with its visibility, in spreadsheet order.
func (c *Client) Tabs(ctx context.Context) ([]Tab, error) {
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields(googleapi.Field("sheets.properties")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, &errs.TransportError{Op: "spreadsheets.get", Err: err}
	}
	tabs := make([]Tab, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties == nil {
			continue
		}
		tabs = append(tabs, Tab{
			Title:  s.Properties.Title,
			Index:  s.Properties.Index,
			Hidden: s.Properties.Hidden,
		})
	}
	return tabs, nil
}

// VisibleTabs is Tabs without hidden sheets.
func (c *Client) VisibleTabs(ctx context.Context) ([]string, error) {
	tabs, err := c.Tabs(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, t := range tabs {
		if !t.Hidden {
			names = append(names, t.Title)
		}
	}
	return names, nil
}

// #endregion tabs

// #region helpers

// QuoteRange wraps a tab name as an A1 range covering the whole sheet.
// Embedded single quotes are doubled.
func QuoteRange(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// UnescapeKey turns the literal "\n" sequences of an env-stored PEM key
// into real newlines.
func UnescapeKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

// #endregion helpers
