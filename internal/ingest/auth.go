package ingest

import (
	"context"
	"crypto/subtle"

	"sitehive/internal/database"
)

// Authorize checks key against the site's own ingest key, or the global key
// when the site is unknown or has none. An empty global key accepts any
// caller for such sites.
func (s *Service) Authorize(site *database.Site, key string) error {
	expected := s.globalKey
	if site != nil && site.IngestKey != nil && *site.IngestKey != "" {
		expected = *site.IngestKey
	}
	if expected == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// authorizeTarget checks key against the site target currently resolves to,
// without creating anything. It runs inside the transaction that then writes
// to that site.
func (s *Service) authorizeTarget(ctx context.Context, q *database.Queries, target Target, key string) error {
	site, ok, err := s.LookupSite(ctx, q, target)
	if err != nil {
		return err
	}
	if !ok {
		return s.Authorize(nil, key)
	}
	return s.Authorize(&site, key)
}
