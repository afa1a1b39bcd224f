package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Adapter produces a candidate code for a stage from one source. Candidate
// must not mutate the page: adapters run concurrently. An adapter that finds
// nothing passing the decoy filter returns ErrNoCandidate.
type Adapter interface {
	Source() Source
	Candidate(ctx context.Context, stage int) (string, error)
}

var storageStageKey = regexp.MustCompile(`(?i)^challenge_code_step_(\d+)$`)

// StorageKey is the per-stage key the challenge writes codes under.
func StorageKey(stage int) string {
	return fmt.Sprintf("challenge_code_step_%d", stage)
}

// StorageReader reads codes out of localStorage and sessionStorage.
type StorageReader struct {
	page   Page
	filter *DecoyFilter
	total  int
}

// NewStorageReader returns a storage adapter.
func NewStorageReader(page Page, filter *DecoyFilter, total int) *StorageReader {
	return &StorageReader{page: page, filter: filter, total: total}
}

func (r *StorageReader) Source() Source { return SourceStorage }

// Candidate tries the stage key in both areas, then scans every entry for a
// matching stage key or a JSON value that carries stage codes.
func (r *StorageReader) Candidate(ctx context.Context, stage int) (string, error) {
	areas := []StorageArea{LocalStorage, SessionStorage}
	key := StorageKey(stage)

	for _, area := range areas {
		v, ok, err := r.page.ReadStorage(ctx, area, key)
		if err != nil {
			return "", capability("read "+area.String(), err)
		}
		if ok && r.filter.IsValidCode(v) {
			return strings.TrimSpace(v), nil
		}
	}

	for _, area := range areas {
		entries, err := r.page.DumpStorage(ctx, area)
		if err != nil {
			return "", capability("dump "+area.String(), err)
		}
		if code, ok := r.scan(entries, stage); ok {
			return code, nil
		}
	}
	return "", ErrNoCandidate
}

func (r *StorageReader) scan(entries map[string]string, stage int) (string, bool) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		m := storageStageKey.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n == stage && r.filter.IsValidCode(entries[k]) {
			return strings.TrimSpace(entries[k]), true
		}
	}
	for _, k := range keys {
		v := entries[k]
		if !isCodeishKey(k) || len(v) > MaxStoredValue {
			continue
		}
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			continue
		}
		if code, ok := ParseStageCodes([]byte(trimmed), r.total)[stage]; ok && r.filter.IsValidCode(code) {
			return code, true
		}
	}
	return "", false
}

// NetworkCacheReader serves codes captured from response payloads.
type NetworkCacheReader struct {
	cache  *NetworkCache
	filter *DecoyFilter
}

// NewNetworkCacheReader returns a network cache adapter.
func NewNetworkCacheReader(cache *NetworkCache, filter *DecoyFilter) *NetworkCacheReader {
	return &NetworkCacheReader{cache: cache, filter: filter}
}

func (r *NetworkCacheReader) Source() Source { return SourceNetworkCache }

func (r *NetworkCacheReader) Candidate(ctx context.Context, stage int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	code, ok := r.cache.Lookup(stage)
	if !ok || !r.filter.IsValidCode(code) {
		return "", ErrNoCandidate
	}
	return code, nil
}
