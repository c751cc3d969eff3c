package fxrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
)

const maxBodyBytes = 2 << 20

// JSONOptions configure the primary rate API.
type JSONOptions struct {
	URL      string
	Currency string
	Timeout  time.Duration
}

// JSONSource reads `rates.<currency>` from an exchangerate-api style document.
type JSONSource struct {
	opts   JSONOptions
	client *http.Client
}

// NewJSONSource constructs the primary source.
func NewJSONSource(opts JSONOptions) *JSONSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "CNY"
	}
	return &JSONSource{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

// Name implements Source.
func (s *JSONSource) Name() string { return "primary" }

// FetchRate implements Source.
func (s *JSONSource) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	body, err := get(ctx, s.client, s.opts.URL, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !gjson.ValidBytes(body) {
		return decimal.Decimal{}, errors.New("primary: response is not valid json")
	}

	value := gjson.GetBytes(body, "rates."+s.opts.Currency)
	if value.Type != gjson.Number {
		return decimal.Decimal{}, fmt.Errorf("primary: rate for %s missing", s.opts.Currency)
	}
	rate, err := decimal.NewFromString(value.Raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("primary: parse rate: %w", err)
	}
	return rate, nil
}

// TableOptions configure the HTML quotation table source.
type TableOptions struct {
	URL          string
	CurrencyName string
	Column       int
	// Unit is the amount of foreign currency a quoted row refers to (100 on the BOC board).
	Unit    decimal.Decimal
	Headers map[string]string
	Timeout time.Duration
}

// TableSource scrapes a published quotation board.
type TableSource struct {
	opts   TableOptions
	client *http.Client
}

// NewTableSource constructs the secondary source.
func NewTableSource(opts TableOptions) *TableSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CurrencyName == "" {
		opts.CurrencyName = "美元"
	}
	if opts.Column <= 0 {
		opts.Column = 3
	}
	if !opts.Unit.IsPositive() {
		opts.Unit = decimal.NewFromInt(100)
	}
	return &TableSource{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

// Name implements Source.
func (s *TableSource) Name() string { return "secondary" }

// FetchRate implements Source.
func (s *TableSource) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	body, err := get(ctx, s.client, s.opts.URL, s.opts.Headers)
	if err != nil {
		return decimal.Decimal{}, err
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("secondary: parse html: %w", err)
	}

	quoted, ok := ParseTableRate(doc, s.opts.CurrencyName, s.opts.Column)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("secondary: no usable row for %s", s.opts.CurrencyName)
	}
	return quoted.Div(s.opts.Unit), nil
}

// ParseTableRate finds the first <tr> whose first cell mentions currencyName and
// parses cell[column] as a positive number.
func ParseTableRate(doc *html.Node, currencyName string, column int) (decimal.Decimal, bool) {
	var (
		rate  decimal.Decimal
		found bool
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode && n.Data == "tr" {
			cells := collectCells(n)
			if len(cells) > column && strings.Contains(cells[0], currencyName) {
				text := strings.Join(strings.Fields(cells[column]), "")
				if d, err := decimal.NewFromString(text); err == nil && d.IsPositive() {
					rate, found = d, true
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return rate, found
}

func collectCells(row *html.Node) []string {
	var cells []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "td" {
				cells = append(cells, textContent(c))
				continue
			}
			walk(c)
		}
	}
	walk(row)
	return cells
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func get(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

var (
	_ Source = (*JSONSource)(nil)
	_ Source = (*TableSource)(nil)
)
