// Package gemini passes through requests from clients that already
// speak the native Gemini generateContent shape. There is no
// Antigravity-specific precedent for this path (the teacher only ever
// emits its own mapped requests); it is built directly from spec
// 4.7's three-line description: wrap in the v1internal envelope,
// route the model through the shared router, and unwrap responses.
package gemini

import (
	"encoding/json"
	"strings"

	"github.com/kestrelmux/antigravity-relay/internal/mapper/router"
	"github.com/kestrelmux/antigravity-relay/internal/upstream"
)

// BuildRequest routes a client-supplied Gemini-shaped generateContent
// body through the model router and capability resolver, returning
// the body unchanged except for any router-driven augmentation
// (google_search tool injection, image config) the Claude and OpenAI
// mappers also apply.
func BuildRequest(model string, body map[string]interface{}, tables router.Tables) (out map[string]interface{}, caps router.Capabilities) {
	mapped := router.ResolveModel(model, tables)
	caps = router.ResolveCapabilities(model, mapped, toolsAsMaps(body["tools"]))

	out = body

	if caps.InjectGoogleSearch {
		tools, _ := out["tools"].([]interface{})
		tools = append(tools, map[string]interface{}{"googleSearch": map[string]interface{}{}})
		out["tools"] = tools
	}
	if caps.ImageConfig != nil {
		injectImageConfig(out, caps.ImageConfig)
	}
	return out, caps
}

// toolsAsMaps scans a client's already-Gemini-shaped tools array for
// function declaration names, in the same {"name": ...} shape the
// Claude and OpenAI mappers build for the capability resolver.
func toolsAsMaps(tools interface{}) []map[string]interface{} {
	arr, ok := tools.([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, t := range arr {
		tm, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		decls, ok := tm["functionDeclarations"].([]interface{})
		if !ok {
			continue
		}
		for _, d := range decls {
			dm, ok := d.(map[string]interface{})
			if !ok {
				continue
			}
			if name, ok := dm["name"].(string); ok {
				out = append(out, map[string]interface{}{"name": name})
			}
		}
	}
	return out
}

func injectImageConfig(body map[string]interface{}, img *router.ImageConfig) {
	gc, _ := body["generationConfig"].(map[string]interface{})
	if gc == nil {
		gc = make(map[string]interface{})
	}
	imageConfig := make(map[string]interface{})
	if img.AspectRatio != "" {
		imageConfig["aspectRatio"] = strings.Replace(img.AspectRatio, "x", ":", 1)
	}
	if img.Resolution != "" {
		imageConfig["imageSize"] = strings.ToUpper(img.Resolution)
	}
	gc["responseModalities"] = []string{"TEXT", "IMAGE"}
	gc["imageConfig"] = imageConfig
	body["generationConfig"] = gc
}

// UnwrapResponse peels the "response" envelope field v1internal wraps
// a native Gemini response in, if present, so the client sees the
// same shape it would get from Gemini's own API directly.
func UnwrapResponse(body json.RawMessage) (json.RawMessage, error) {
	var outer struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, err
	}
	if len(outer.Response) > 0 {
		return outer.Response, nil
	}
	return body, nil
}

// UnwrapStream re-emits a streaming upstream call's decoded SSE
// events with the same "response" envelope peeled off each frame.
func UnwrapStream(events <-chan upstream.Event) <-chan json.RawMessage {
	out := make(chan json.RawMessage)
	go func() {
		defer close(out)
		for ev := range events {
			unwrapped, err := UnwrapResponse(ev.Data)
			if err != nil {
				continue
			}
			out <- unwrapped
		}
	}()
	return out
}
