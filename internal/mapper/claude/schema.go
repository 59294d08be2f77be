package claude

import "encoding/json"

// toMap round-trips v through JSON to get a plain map representation,
// the same trick the teacher's GoogleRequest.ToMap uses to graft
// dynamic fields onto a struct-shaped request before it's sent.
func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
