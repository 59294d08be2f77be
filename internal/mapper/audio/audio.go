// Package audio converts a multipart audio-transcription request into
// a Gemini inline-data generateContent body, and unwraps the
// resulting transcript text back out of a v1internal response.
// Grounded on original_source/.../proxy/handlers/audio.rs and its
// proxy/audio/mod.rs AudioProcessor helper.
package audio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxAudioBytes is the upload size cap the original enforces before
// falling back to a 413.
const MaxAudioBytes = 15 * 1024 * 1024

// DefaultModel and DefaultPrompt mirror the original's request
// defaults when the client omits either form field.
const (
	DefaultModel  = "gemini-2.0-flash-exp"
	DefaultPrompt = "Generate a transcript of the speech."
)

var extMimeTypes = map[string]string{
	"mp3":  "audio/mp3",
	"wav":  "audio/wav",
	"m4a":  "audio/aac",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"aiff": "audio/aiff",
	"aif":  "audio/aiff",
}

// DetectMIMEType maps a filename's extension to the audio MIME type
// Gemini expects, rejecting anything outside the original's allowlist.
func DetectMIMEType(filename string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return "", fmt.Errorf("could not determine file extension")
	}
	mimeType, ok := extMimeTypes[ext]
	if !ok {
		return "", fmt.Errorf("unsupported audio format: %s", ext)
	}
	return mimeType, nil
}

// ExceedsSizeLimit reports whether a file's size is over the 15 MB cap.
func ExceedsSizeLimit(sizeBytes int) bool {
	return sizeBytes > MaxAudioBytes
}

// TooLargeMessage is the 413 body text for an oversized upload,
// matching the original's exact wording.
func TooLargeMessage(sizeBytes int) string {
	sizeMB := float64(sizeBytes) / (1024 * 1024)
	return fmt.Sprintf("audio file too large (%.1f MB); 15 MB max (~16 min of mp3)", sizeMB)
}

// BuildRequest wraps base64-encoded audio bytes and a transcription
// prompt into a Gemini generateContent body with a single inline-data
// part alongside the prompt text.
func BuildRequest(prompt, mimeType string, audioData []byte) map[string]interface{} {
	return map[string]interface{}{
		"contents": []interface{}{
			map[string]interface{}{
				"parts": []interface{}{
					map[string]interface{}{"text": prompt},
					map[string]interface{}{
						"inlineData": map[string]interface{}{
							"mimeType": mimeType,
							"data":     base64.StdEncoding.EncodeToString(audioData),
						},
					},
				},
			},
		},
	}
}

// ConvertResponse extracts the first candidate's transcript text from
// a v1internal response, peeling the "response" envelope if present.
func ConvertResponse(body json.RawMessage) (string, error) {
	var outer struct {
		Response   json.RawMessage `json:"response"`
		Candidates json.RawMessage `json:"candidates"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return "", err
	}

	candidatesRaw := outer.Candidates
	if len(outer.Response) > 0 {
		var inner struct {
			Candidates json.RawMessage `json:"candidates"`
		}
		if err := json.Unmarshal(outer.Response, &inner); err != nil {
			return "", err
		}
		candidatesRaw = inner.Candidates
	}
	if len(candidatesRaw) == 0 {
		return "", nil
	}

	var candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	}
	if err := json.Unmarshal(candidatesRaw, &candidates); err != nil {
		return "", err
	}
	if len(candidates) == 0 || len(candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return candidates[0].Content.Parts[0].Text, nil
}
