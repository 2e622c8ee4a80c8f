// Package resolve answers "does this resource already exist" questions so
// that re-running a batch never creates duplicates.
//
// Container resources (groups, projects) are resolved by listing their
// siblings under the parent and matching the natural key: robust even when
// the remote lacks a direct existence endpoint, at the cost of a listing
// round-trip. Membership and path-addressed resources are resolved with a
// direct probe, which is cheaper and unambiguous. The resolver never creates
// or mutates anything.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/forgeops/glbatch/pkg/batch"
	"github.com/forgeops/glbatch/pkg/client"
	"github.com/forgeops/glbatch/pkg/pagination"
)

// Getter is the read-only client surface the resolver needs.
type Getter interface {
	Get(ctx context.Context, path string) (*client.Response, error)
}

// Lister aggregates a multi-page listing.
type Lister interface {
	FetchAll(ctx context.Context, basePath string) ([]pagination.Record, error)
}

// Resolver implements idempotency lookups against the forge API.
type Resolver struct {
	client Getter
	lister Lister
	logger zerolog.Logger
}

// NewResolver creates a resolver. The lister is typically a
// pagination.Fetcher over the same client.
func NewResolver(getter Getter, lister Lister) *Resolver {
	return &Resolver{
		client: getter,
		lister: lister,
		logger: log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve reports whether the resource identified by (kind, naturalKey,
// parentRef) already exists. Any non-2xx, non-429 probe status means "not
// found - safe to create"; only transport-level failures (retry exhaustion)
// surface as errors.
func (r *Resolver) Resolve(ctx context.Context, kind batch.Kind, naturalKey, parentRef string) (batch.Resolution, error) {
	switch kind {
	case batch.KindCreateGroup:
		path := "/groups?top_level_only=true"
		if parentRef != "" {
			path = fmt.Sprintf("/groups/%s/subgroups", url.PathEscape(parentRef))
		}
		return r.resolveByListing(ctx, path, naturalKey)

	case batch.KindCreateProject:
		path := "/projects"
		if parentRef != "" {
			path = fmt.Sprintf("/groups/%s/projects", url.PathEscape(parentRef))
		}
		return r.resolveByListing(ctx, path, naturalKey)

	case batch.KindAddMember:
		return r.resolveByProbe(ctx, fmt.Sprintf("/groups/%s/members/%s",
			url.PathEscape(parentRef), url.PathEscape(naturalKey)))

	case batch.KindUpdate, batch.KindDelete:
		return r.resolveByProbe(ctx, "/"+naturalKey)

	default:
		return batch.Resolution{}, fmt.Errorf("unknown operation kind %q", kind)
	}
}

// resolveByListing fetches the sibling collection and matches the natural
// key against each record's path (falling back to name).
func (r *Resolver) resolveByListing(ctx context.Context, listPath, naturalKey string) (batch.Resolution, error) {
	records, err := r.lister.FetchAll(ctx, listPath)
	if err != nil {
		if !errors.Is(err, pagination.ErrPageLimitExceeded) {
			return batch.Resolution{}, err
		}
		// Partial listing: a match found below the cap is still a
		// match; absence is only as reliable as the cap allows.
		r.logger.Warn().
			Str("path", listPath).
			Str("natural_key", naturalKey).
			Msg("Sibling listing truncated at page cap - existence check may be incomplete")
	}

	for _, rec := range records {
		if recordString(rec, "path") == naturalKey || recordString(rec, "name") == naturalKey {
			return batch.Resolution{Exists: true, ResourceID: recordID(rec)}, nil
		}
	}
	return batch.Resolution{}, nil
}

// resolveByProbe performs a direct existence lookup.
func (r *Resolver) resolveByProbe(ctx context.Context, path string) (batch.Resolution, error) {
	resp, err := r.client.Get(ctx, path)
	if err != nil {
		return batch.Resolution{}, fmt.Errorf("existence probe %s: %w", path, err)
	}
	if !resp.Success() {
		r.logger.Debug().
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Existence probe negative")
		return batch.Resolution{}, nil
	}

	var rec pagination.Record
	if err := resp.DecodeJSON(&rec); err != nil {
		// A 2xx with an undecodable body still proves existence.
		return batch.Resolution{Exists: true}, nil
	}
	return batch.Resolution{Exists: true, ResourceID: recordID(rec)}, nil
}

// recordString reads a string field from an opaque record.
func recordString(rec pagination.Record, field string) string {
	if v, ok := rec[field].(string); ok {
		return v
	}
	return ""
}

// recordID renders a record's id field, whatever JSON type it decoded to.
func recordID(rec pagination.Record) string {
	switch v := rec["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
