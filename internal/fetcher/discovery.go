package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

const linksPath = "data.hq_ws_links"

// discover resolves the feed address, silently falling back to the backup URL.
func (s *Streaming) discover(ctx context.Context) string {
	if s.opts.DiscoveryURL == "" {
		return s.opts.BackupURL
	}

	url, err := s.resolveEndpoint(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("backup_url", s.opts.BackupURL).Msg("endpoint discovery failed; using backup address")
		return s.opts.BackupURL
	}

	s.logger.Debug().Str("url", url).Msg("discovered stream endpoint")
	return url
}

// resolveEndpoint returns the first link of the discovery document.
func (s *Streaming) resolveEndpoint(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.DiscoveryTimeout)
	defer cancel()

	fail := func(err error) (string, error) {
		return "", newFetchError(ErrKindDiscoveryFailed, s.opts.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.DiscoveryURL, nil)
	if err != nil {
		return fail(fmt.Errorf("create request: %w", err))
	}
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fail(fmt.Errorf("read body: %w", err))
	}
	if !gjson.ValidBytes(body) {
		return fail(errors.New("response is not valid json"))
	}

	doc := gjson.ParseBytes(body)
	if code := doc.Get("code"); !code.Exists() || code.Type != gjson.Number || code.Int() != 0 {
		return fail(fmt.Errorf("unexpected code %q", code.Raw))
	}

	links := doc.Get(linksPath)
	if !links.IsObject() {
		return fail(errors.New("links map missing"))
	}

	var first string
	links.ForEach(func(_, value gjson.Result) bool {
		first = value.String()
		return false
	})
	if first == "" {
		return fail(errors.New("no stream links published"))
	}

	return first, nil
}
