// Package claude converts between the Anthropic Messages API shape and
// the Gemini-shaped body this relay sends inside a v1internal envelope.
// Grounded on the teacher's internal/format package
// (request_converter.go, content_converter.go, thinking_utils.go,
// schema_sanitizer.go), generalized from its hardcoded Antigravity
// client identity to this relay's multi-dialect router.
package claude

// block is the mapper's working representation of an Anthropic content
// block, used instead of pkg/anthropic.ContentBlock so Input can be
// carried as a decoded map while still round-tripping through JSON at
// the request boundary.
type block struct {
	Type string `json:"type,omitempty"`

	Text string `json:"text,omitempty"`

	Thinking         string `json:"thinking,omitempty"`
	Signature        string `json:"signature,omitempty"`
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
	Thought          bool   `json:"thought,omitempty"`

	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   interface{}            `json:"content,omitempty"`

	CacheControl interface{} `json:"cache_control,omitempty"`
	Data         string      `json:"data,omitempty"`

	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// message is the mapper's working representation of one conversation turn.
type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content,omitempty"`
}

// googlePart is one part of a Gemini contents[].parts[] entry.
type googlePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
	InlineData       *inlineData       `json:"inlineData,omitempty"`
	FileData         *fileData         `json:"fileData,omitempty"`
}

type functionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

type functionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response,omitempty"`
	ID       string                 `json:"id,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// googleContent is one entry of the Gemini request's contents array.
type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

// googleRequest is the Gemini-shaped request body this mapper builds,
// ready to be carried as the `request` field of a v1internal envelope.
type googleRequest struct {
	Contents          []googleContent    `json:"contents"`
	GenerationConfig  *generationConfig  `json:"generationConfig,omitempty"`
	SystemInstruction *googleContent     `json:"systemInstruction,omitempty"`
	Tools             []googleTool       `json:"tools,omitempty"`
	ToolConfig        *toolConfig        `json:"toolConfig,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

// thinkingConfig carries both the Claude-family (snake_case) and
// Gemini-family (camelCase) field names; only one set is ever
// populated per request, but both survive JSON marshaling untouched.
type thinkingConfig struct {
	IncludeThoughts bool `json:"include_thoughts,omitempty"`
	ThinkingBudget  int  `json:"thinking_budget,omitempty"`

	IncludeThoughtsGemini bool `json:"includeThoughts,omitempty"`
	ThinkingBudgetGemini  int  `json:"thinkingBudget,omitempty"`
}

type googleTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig *functionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type functionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

// ToMap converts a googleRequest to a plain map so the caller can graft
// on capability-resolver fields (e.g. injected google_search tool) that
// don't have a dedicated struct field.
func (r *googleRequest) ToMap() map[string]interface{} {
	return toMap(r)
}
