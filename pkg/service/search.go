package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/openmedrec/fhirgate/pkg/conformance"
	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/registry"
	"github.com/openmedrec/fhirgate/pkg/storage"
)

const (
	// DefaultPageSize is used when _count is absent.
	DefaultPageSize = 20
	// MaxPageSize is the upper clamp for _count.
	MaxPageSize = 1000
)

// Search validates the parameters against the resource's policy, pages the
// matching current non-deleted rows newest first, and assembles a searchset
// bundle with self/first/prev/next/last navigation links.
func (s *Service) Search(ctx context.Context, resourceType string, version fhirversion.Version, params url.Values, requestURL string) ([]byte, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := s.config(resourceType, version, registry.InteractionSearch)
	if err != nil {
		return nil, err
	}

	filtered, err := s.searchParams.Filter(rc, params)
	if err != nil {
		return nil, err
	}

	count, offset, err := pageWindow(filtered)
	if err != nil {
		return nil, err
	}

	backend, err := s.router.BackendFor(resourceType)
	if err != nil {
		return nil, err
	}

	recs, total, err := backend.Search(ctx, tenant, resourceType, storage.SearchQuery{
		Params: filtered,
		Count:  count,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}

	resources := make([]json.RawMessage, len(recs))
	for i, rec := range recs {
		resources[i] = json.RawMessage(rec.Content)
	}

	baseURL, preserved := splitRequestURL(requestURL, filtered)
	links := paginationLinks(baseURL, preserved, count, offset, total)

	return s.engine.BuildSearchBundle(conformance.SearchBundleConfig{
		BaseURL:   baseURL,
		Total:     int(total),
		Resources: resources,
		Links:     links,
	})
}

// pageWindow resolves _count (clamped to [1, MaxPageSize], default 20) and
// _offset (>= 0).
func pageWindow(params url.Values) (count, offset int, err error) {
	count = DefaultPageSize
	if v := params.Get("_count"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return 0, 0, outcome.New(outcome.KindBadRequest, "_count must be a positive integer")
		}
		count = n
	}
	if count > MaxPageSize {
		count = MaxPageSize
	}

	if v := params.Get("_offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, outcome.New(outcome.KindBadRequest, "_offset must be a non-negative integer")
		}
		offset = n
	}
	return count, offset, nil
}

// splitRequestURL strips the query from the request URL and returns the
// preserved non-paging parameters each navigation link carries.
func splitRequestURL(requestURL string, params url.Values) (string, url.Values) {
	base := requestURL
	if u, err := url.Parse(requestURL); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		base = u.String()
	}

	preserved := url.Values{}
	for name, values := range params {
		if name == "_count" || name == "_offset" {
			continue
		}
		preserved[name] = values
	}
	return base, preserved
}

// paginationLinks builds the five navigation links. self, first, and last
// are always present; prev appears iff offset > 0 and next iff more pages
// exist.
func paginationLinks(baseURL string, preserved url.Values, count, offset int, total int64) []conformance.LinkConfig {
	link := func(relation string, linkOffset int) conformance.LinkConfig {
		q := url.Values{}
		for name, values := range preserved {
			q[name] = values
		}
		q.Set("_count", strconv.Itoa(count))
		q.Set("_offset", strconv.Itoa(linkOffset))
		return conformance.LinkConfig{
			Relation: relation,
			URL:      fmt.Sprintf("%s?%s", baseURL, q.Encode()),
		}
	}

	lastOffset := 0
	if total > 0 {
		lastOffset = int((total - 1) / int64(count)) * count
	}

	links := []conformance.LinkConfig{
		link("self", offset),
		link("first", 0),
	}
	if offset > 0 {
		prev := offset - count
		if prev < 0 {
			prev = 0
		}
		links = append(links, link("prev", prev))
	}
	if int64(offset+count) < total {
		links = append(links, link("next", offset+count))
	}
	links = append(links, link("last", lastOffset))

	return links
}
