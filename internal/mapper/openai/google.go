package openai

// Working Gemini-shaped request/response types, parallel to
// internal/mapper/claude's but without the Claude-specific
// thinking/signature machinery OpenAI's surface has no equivalent
// for. Grounded on the same v1internal request shape the Claude
// mapper targets.

type googleRequest struct {
	Contents         []googleContent   `json:"contents"`
	SystemInstruction *googleContent   `json:"systemInstruction,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	Tools            []googleTool      `json:"tools,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts,omitempty"`
}

type googlePart struct {
	Text             string                 `json:"text,omitempty"`
	FunctionCall     *functionCall          `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse      `json:"functionResponse,omitempty"`
	InlineData       *inlineData            `json:"inlineData,omitempty"`
	FileData         *fileData              `json:"fileData,omitempty"`
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

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type googleTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// googleResponse mirrors the Gemini-shaped response body v1internal
// returns, either bare or wrapped under a "response" envelope field.
type googleResponse struct {
	Response      *googleResponseInner `json:"response,omitempty"`
	Candidates    []candidate          `json:"candidates,omitempty"`
	UsageMetadata *usageMetadata       `json:"usageMetadata,omitempty"`
}

type googleResponseInner struct {
	Candidates    []candidate    `json:"candidates,omitempty"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      *candidateContent `json:"content,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

type candidateContent struct {
	Parts []responsePart `json:"parts,omitempty"`
	Role  string         `json:"role,omitempty"`
}

type responsePart struct {
	Text             string        `json:"text,omitempty"`
	Thought          bool          `json:"thought,omitempty"`
	ThoughtSignature string        `json:"thoughtSignature,omitempty"`
	FunctionCall     *functionCall `json:"functionCall,omitempty"`
	InlineData       *inlineData   `json:"inlineData,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}
