// Package router resolves an incoming client model id to the upstream
// model actually called, and derives the request's capability profile
// (plain text, image generation, or web search; RequestAudio is
// declared but ResolveCapabilities never returns it). Shared by
// every protocol mapper so the three-tier lookup and capability rules
// behave identically regardless of which client dialect asked.
// Grounded on original_source's proxy/common/model_mapping.rs
// (resolve_model_route, wildcard_match, map_claude_model_to_gemini)
// and proxy/handlers/common.rs + mappers/common_utils_test_probe.rs
// for the capability resolver's web-search-tool downgrade behavior.
package router

import (
	"regexp"
	"strings"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

// Tables are the three per-protocol custom mapping tables consulted
// ahead of the built-in fallback table.
type Tables struct {
	Custom     map[string]string
	OpenAI     map[string]string
	Anthropic  map[string]string
}

// ResolveModel maps an incoming model id to its upstream target:
// exact hit in any custom table, then a "*"-wildcard pattern matched
// by prefix/suffix around the star, then the built-in fallback table.
func ResolveModel(original string, tables Tables) string {
	for _, m := range []map[string]string{tables.Custom, tables.OpenAI, tables.Anthropic} {
		if target, ok := m[original]; ok {
			return target
		}
	}
	for _, m := range []map[string]string{tables.Custom, tables.OpenAI, tables.Anthropic} {
		for pattern, target := range m {
			if strings.Contains(pattern, "*") && wildcardMatch(pattern, original) {
				return target
			}
		}
	}
	return fallbackBuiltin(original)
}

// wildcardMatch supports a single "*" wildcard: everything before it
// must prefix text, everything after it must suffix text.
func wildcardMatch(pattern, text string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == text
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return strings.HasPrefix(text, prefix) && strings.HasSuffix(text, suffix)
}

// fallbackBuiltin is the router's third tier: an explicit table lookup,
// then Gemini/"-thinking" ids passed through unchanged, then any other
// Claude id normalized to the default Claude target.
func fallbackBuiltin(original string) string {
	if target, ok := config.BuiltinModelMap[original]; ok {
		return target
	}
	lower := strings.ToLower(original)
	if strings.HasPrefix(lower, "gemini-") || strings.Contains(lower, "thinking") {
		return original
	}
	if strings.HasPrefix(lower, "claude-") {
		return "claude-sonnet-4-5"
	}
	return original
}

// RequestType classifies what kind of upstream call a request needs.
type RequestType string

const (
	RequestText      RequestType = "text"
	RequestImageGen  RequestType = "image_gen"
	RequestWebSearch RequestType = "web_search"
	RequestAudio     RequestType = "audio"
)

// ImageConfig carries the resolution/aspect-ratio parsed off an
// image-generation model's suffix chain.
type ImageConfig struct {
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// Capabilities is the resolved request profile a mapper and the
// upstream envelope builder act on.
type Capabilities struct {
	RequestType        RequestType
	FinalModel         string
	InjectGoogleSearch bool
	ImageConfig        *ImageConfig
}

// webSearchDowngradeModel is what a detected custom web_search tool
// forces the call down to, mirroring the teacher's capacity/cost
// tradeoff for tool-equipped search requests.
const webSearchDowngradeModel = "gemini-2.5-flash"

// ResolveCapabilities derives the request profile for (original,
// mapped, tools). A client-declared "web_search" tool — whether a
// bare top-level name or a functionDeclarations entry — always wins
// over other capability detection and downgrades the model. This
// over-triggers: a client's own function that merely shares the name
// "web_search" causes the same downgrade.
func ResolveCapabilities(original, mapped string, tools []map[string]interface{}) Capabilities {
	if hasWebSearchTool(tools) {
		return Capabilities{
			RequestType:        RequestWebSearch,
			FinalModel:         webSearchDowngradeModel,
			InjectGoogleSearch: true,
		}
	}

	if _, cfg := parseImageSuffix(mapped); cfg != nil {
		return Capabilities{RequestType: RequestImageGen, FinalModel: mapped, ImageConfig: cfg}
	}

	return Capabilities{RequestType: RequestText, FinalModel: mapped}
}

// hasWebSearchTool reports whether any declared tool names itself (or
// declares a function named) "web_search".
func hasWebSearchTool(tools []map[string]interface{}) bool {
	for _, tool := range tools {
		if name, _ := tool["name"].(string); name == "web_search" {
			return true
		}
		decls, ok := tool["functionDeclarations"].([]interface{})
		if !ok {
			continue
		}
		for _, d := range decls {
			decl, ok := d.(map[string]interface{})
			if !ok {
				continue
			}
			if name, _ := decl["name"].(string); name == "web_search" {
				return true
			}
		}
	}
	return false
}

var imageSuffixRe = regexp.MustCompile(`^(.+-image)(?:-(\d+)k)?(?:-(\d+)x(\d+))?$`)

// parseImageSuffix extracts resolution/aspect-ratio from an
// image-generation model id's optional "-Nk" and "-AxB" suffixes,
// e.g. "gemini-3-pro-image-2k-16x9" -> resolution "2k", ratio "16x9".
// Returns a nil ImageConfig for any model that isn't an image-gen id.
func parseImageSuffix(model string) (base string, cfg *ImageConfig) {
	m := imageSuffixRe.FindStringSubmatch(model)
	if m == nil {
		return model, nil
	}
	cfg = &ImageConfig{}
	if m[2] != "" {
		cfg.Resolution = m[2] + "k"
	}
	if m[3] != "" && m[4] != "" {
		cfg.AspectRatio = m[3] + "x" + m[4]
	}
	return m[1], cfg
}
