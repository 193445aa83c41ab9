// Package cache implements the Response Cache: fingerprint to prior
// ChatCompletionMessageWithFinishReason plus captured event sequence,
// replayed deterministically (spec §4.5). At-most-one concurrent build per
// fingerprint is guaranteed via golang.org/x/sync/singleflight; eviction is
// TTL-only by default (spec §9 open question).
package cache

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/vllora/gateway/runtime/agent/model"
)

// Fingerprint computes a stable hash over the normalized request: model,
// messages (canonical), tools (canonical), and the optional
// extra.cache.key (spec §3.1). It is invariant under message-list equality
// of canonical form, matching the round-trip property of spec §8.
func Fingerprint(req *model.ChatCompletionRequest) string {
	canon := canonicalRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Tools:    canonicalTools(req.Tools),
		CacheKey: cacheKeyOf(req),
	}
	// json.Marshal of a struct with fixed field order already produces a
	// canonical byte sequence; map-free fields avoid Go's randomized map
	// iteration from leaking into the hash.
	data, err := json.Marshal(canon)
	if err != nil {
		// Fingerprinting must never fail the request; an unfingerprintable
		// request degrades to a fingerprint that never matches a prior
		// entry, guaranteeing a cache miss rather than a wrong hit.
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

type canonicalRequest struct {
	Model    string                         `json:"model"`
	Messages []model.ChatCompletionMessage  `json:"messages"`
	Tools    []canonicalTool                `json:"tools"`
	CacheKey string                         `json:"cache_key,omitempty"`
}

type canonicalTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"input_schema"`
}

func canonicalTools(tools []model.ToolDefinition) []canonicalTool {
	out := make([]canonicalTool, len(tools))
	for i, t := range tools {
		schemaJSON, _ := json.Marshal(t.InputSchema)
		out[i] = canonicalTool{Name: t.Name, Description: t.Description, InputSchema: string(schemaJSON)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func cacheKeyOf(req *model.ChatCompletionRequest) string {
	if req.Extra.Cache != nil {
		return req.Extra.Cache.Key
	}
	return ""
}
