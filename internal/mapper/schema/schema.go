// Package schema cleans client-declared JSON Schema tool parameters
// down to the subset Gemini's function-declaration parser accepts.
// Shared by every protocol mapper so schema handling behaves
// identically regardless of which client dialect declared the tool.
// Grounded on the teacher's internal/format/schema_sanitizer.go.
package schema

import (
	"fmt"
	"strings"
)

// SanitizeSchema allowlists JSON Schema fields for v1internal
// compatibility and converts "const" to an equivalent single-value
// "enum". A missing or empty schema gets a placeholder "reason"
// property so the API never sees a tool with no parameters at all.
// Grounded on the teacher's format.SanitizeSchema.
func SanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if len(schema) == 0 {
		return reasonPlaceholder()
	}

	allowed := map[string]bool{
		"type": true, "description": true, "properties": true,
		"required": true, "items": true, "enum": true, "title": true,
	}

	sanitized := make(map[string]interface{})
	for key, value := range schema {
		if key == "const" {
			sanitized["enum"] = []interface{}{value}
			continue
		}
		if !allowed[key] {
			continue
		}
		switch key {
		case "properties":
			if props, ok := value.(map[string]interface{}); ok {
				sanitized["properties"] = sanitizePropertyMap(props)
			}
		case "items":
			sanitized["items"] = sanitizeItems(value)
		default:
			if valueMap, ok := value.(map[string]interface{}); ok {
				sanitized[key] = SanitizeSchema(valueMap)
			} else {
				sanitized[key] = value
			}
		}
	}

	if _, ok := sanitized["type"]; !ok {
		sanitized["type"] = "object"
	}

	if schemaType, _ := sanitized["type"].(string); schemaType == "object" {
		props, hasProps := sanitized["properties"].(map[string]interface{})
		if !hasProps || len(props) == 0 {
			placeholder := reasonPlaceholder()
			sanitized["properties"] = placeholder["properties"]
			sanitized["required"] = placeholder["required"]
		}
	}

	return sanitized
}

func reasonPlaceholder() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Reason for calling this tool",
			},
		},
		"required": []string{"reason"},
	}
}

func sanitizePropertyMap(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		if vm, ok := v.(map[string]interface{}); ok {
			out[k] = SanitizeSchema(vm)
		} else {
			out[k] = v
		}
	}
	return out
}

func sanitizeItems(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return SanitizeSchema(v)
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if im, ok := item.(map[string]interface{}); ok {
				out = append(out, SanitizeSchema(im))
			} else {
				out = append(out, item)
			}
		}
		return out
	default:
		return value
	}
}

// CleanSchema runs the multi-phase pipeline that turns an arbitrary
// JSON Schema into the subset Gemini's function-declaration parser
// accepts: $ref/allOf/anyOf/oneOf get resolved away, unsupported
// keywords move into the description as a hint, and the type name is
// upper-cased to the Gemini enum spelling. Grounded on the teacher's
// format.CleanSchema.
func CleanSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}

	result := copyMap(schema)
	result = convertRefsToHints(result)
	result = addEnumHints(result)
	result = addAdditionalPropertiesHints(result)
	result = moveConstraintsToDescription(result)
	result = mergeAllOf(result)
	result = flattenAnyOfOneOf(result)
	result = flattenTypeArrays(result, nil, "")

	for _, key := range []string{
		"additionalProperties", "default", "$schema", "$defs",
		"definitions", "$ref", "$id", "$comment", "title",
		"minLength", "maxLength", "pattern", "format",
		"minItems", "maxItems", "examples", "allOf", "anyOf", "oneOf",
	} {
		delete(result, key)
	}

	if schemaType, ok := result["type"].(string); ok && schemaType == "string" {
		if format, ok := result["format"].(string); ok {
			if format != "enum" && format != "date-time" {
				delete(result, "format")
			}
		}
	}

	if props, ok := result["properties"].(map[string]interface{}); ok {
		newProps := make(map[string]interface{}, len(props))
		for key, value := range props {
			if vm, ok := value.(map[string]interface{}); ok {
				newProps[key] = CleanSchema(vm)
			} else {
				newProps[key] = value
			}
		}
		result["properties"] = newProps
	}
	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = CleanSchema(items)
	} else if itemsArr, ok := result["items"].([]interface{}); ok {
		newItems := make([]interface{}, 0, len(itemsArr))
		for _, item := range itemsArr {
			if im, ok := item.(map[string]interface{}); ok {
				newItems = append(newItems, CleanSchema(im))
			} else {
				newItems = append(newItems, item)
			}
		}
		result["items"] = newItems
	}

	if required, ok := result["required"].([]interface{}); ok {
		if props, ok := result["properties"].(map[string]interface{}); ok {
			defined := make(map[string]bool, len(props))
			for k := range props {
				defined[k] = true
			}
			newRequired := make([]interface{}, 0, len(required))
			for _, r := range required {
				if rs, ok := r.(string); ok && defined[rs] {
					newRequired = append(newRequired, rs)
				}
			}
			if len(newRequired) == 0 {
				delete(result, "required")
			} else {
				result["required"] = newRequired
			}
		}
	}

	if schemaType, ok := result["type"].(string); ok {
		result["type"] = toGoogleType(schemaType)
	}

	return result
}

func appendDescriptionHint(schema map[string]interface{}, hint string) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)
	if desc, ok := result["description"].(string); ok && desc != "" {
		result["description"] = fmt.Sprintf("%s (%s)", desc, hint)
	} else {
		result["description"] = hint
	}
	return result
}

func scoreSchemaOption(schema map[string]interface{}) int {
	if schema == nil {
		return 0
	}
	if schema["type"] == "object" || schema["properties"] != nil {
		return 3
	}
	if schema["type"] == "array" || schema["items"] != nil {
		return 2
	}
	if t, ok := schema["type"].(string); ok && t != "null" {
		return 1
	}
	return 0
}

func convertRefsToHints(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	if ref, ok := result["$ref"].(string); ok {
		parts := strings.Split(ref, "/")
		defName := parts[len(parts)-1]
		if defName == "" {
			defName = "unknown"
		}
		hint := fmt.Sprintf("See: %s", defName)
		description := hint
		if desc, ok := result["description"].(string); ok && desc != "" {
			description = fmt.Sprintf("%s (%s)", desc, hint)
		}
		return map[string]interface{}{"type": "object", "description": description}
	}

	if props, ok := result["properties"].(map[string]interface{}); ok {
		newProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]interface{}); ok {
				newProps[k] = convertRefsToHints(vm)
			} else {
				newProps[k] = v
			}
		}
		result["properties"] = newProps
	}
	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = convertRefsToHints(items)
	} else if itemsArr, ok := result["items"].([]interface{}); ok {
		newItems := make([]interface{}, 0, len(itemsArr))
		for _, item := range itemsArr {
			if im, ok := item.(map[string]interface{}); ok {
				newItems = append(newItems, convertRefsToHints(im))
			} else {
				newItems = append(newItems, item)
			}
		}
		result["items"] = newItems
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := result[key].([]interface{}); ok {
			newArr := make([]interface{}, 0, len(arr))
			for _, item := range arr {
				if im, ok := item.(map[string]interface{}); ok {
					newArr = append(newArr, convertRefsToHints(im))
				} else {
					newArr = append(newArr, item)
				}
			}
			result[key] = newArr
		}
	}
	return result
}

func mergeAllOf(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	if allOfArr, ok := result["allOf"].([]interface{}); ok && len(allOfArr) > 0 {
		mergedProps := make(map[string]interface{})
		mergedRequired := make(map[string]bool)
		otherFields := make(map[string]interface{})

		for _, sub := range allOfArr {
			subMap, ok := sub.(map[string]interface{})
			if !ok {
				continue
			}
			if props, ok := subMap["properties"].(map[string]interface{}); ok {
				for k, v := range props {
					mergedProps[k] = v
				}
			}
			if required, ok := subMap["required"].([]interface{}); ok {
				for _, r := range required {
					if rs, ok := r.(string); ok {
						mergedRequired[rs] = true
					}
				}
			}
			for k, v := range subMap {
				if k != "properties" && k != "required" {
					if _, exists := otherFields[k]; !exists {
						otherFields[k] = v
					}
				}
			}
		}

		delete(result, "allOf")
		for k, v := range otherFields {
			if _, exists := result[k]; !exists {
				result[k] = v
			}
		}
		if len(mergedProps) > 0 {
			existing, _ := result["properties"].(map[string]interface{})
			if existing == nil {
				existing = make(map[string]interface{})
			}
			for k, v := range mergedProps {
				if _, exists := existing[k]; !exists {
					existing[k] = v
				}
			}
			result["properties"] = existing
		}
		if len(mergedRequired) > 0 {
			existingRequired := make(map[string]bool)
			if req, ok := result["required"].([]interface{}); ok {
				for _, r := range req {
					if rs, ok := r.(string); ok {
						existingRequired[rs] = true
					}
				}
			}
			for k := range mergedRequired {
				existingRequired[k] = true
			}
			newRequired := make([]interface{}, 0, len(existingRequired))
			for k := range existingRequired {
				newRequired = append(newRequired, k)
			}
			result["required"] = newRequired
		}
	}

	if props, ok := result["properties"].(map[string]interface{}); ok {
		newProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]interface{}); ok {
				newProps[k] = mergeAllOf(vm)
			} else {
				newProps[k] = v
			}
		}
		result["properties"] = newProps
	}
	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = mergeAllOf(items)
	} else if itemsArr, ok := result["items"].([]interface{}); ok {
		newItems := make([]interface{}, 0, len(itemsArr))
		for _, item := range itemsArr {
			if im, ok := item.(map[string]interface{}); ok {
				newItems = append(newItems, mergeAllOf(im))
			} else {
				newItems = append(newItems, item)
			}
		}
		result["items"] = newItems
	}
	return result
}

func flattenAnyOfOneOf(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	for _, unionKey := range []string{"anyOf", "oneOf"} {
		options, ok := result[unionKey].([]interface{})
		if !ok || len(options) == 0 {
			continue
		}

		var typeNames []string
		var best map[string]interface{}
		bestScore := -1

		for _, option := range options {
			optMap, ok := option.(map[string]interface{})
			if !ok {
				continue
			}
			typeName := ""
			if t, ok := optMap["type"].(string); ok {
				typeName = t
			} else if optMap["properties"] != nil {
				typeName = "object"
			}
			if typeName != "" && typeName != "null" {
				typeNames = append(typeNames, typeName)
			}
			if score := scoreSchemaOption(optMap); score > bestScore {
				bestScore = score
				best = optMap
			}
		}

		delete(result, unionKey)

		if best != nil {
			parentDesc, _ := result["description"].(string)
			flattened := flattenAnyOfOneOf(best)
			for k, v := range flattened {
				if k == "description" {
					if vs, ok := v.(string); ok && vs != "" && vs != parentDesc {
						if parentDesc != "" {
							result["description"] = fmt.Sprintf("%s (%s)", parentDesc, vs)
						} else {
							result["description"] = vs
						}
					}
					continue
				}
				if _, exists := result[k]; !exists || k == "type" || k == "properties" || k == "items" {
					result[k] = v
				}
			}
			if len(typeNames) > 1 {
				result = appendDescriptionHint(result, fmt.Sprintf("Accepts: %s", strings.Join(unique(typeNames), " | ")))
			}
		}
	}

	if props, ok := result["properties"].(map[string]interface{}); ok {
		newProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]interface{}); ok {
				newProps[k] = flattenAnyOfOneOf(vm)
			} else {
				newProps[k] = v
			}
		}
		result["properties"] = newProps
	}
	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = flattenAnyOfOneOf(items)
	} else if itemsArr, ok := result["items"].([]interface{}); ok {
		newItems := make([]interface{}, 0, len(itemsArr))
		for _, item := range itemsArr {
			if im, ok := item.(map[string]interface{}); ok {
				newItems = append(newItems, flattenAnyOfOneOf(im))
			} else {
				newItems = append(newItems, item)
			}
		}
		result["items"] = newItems
	}
	return result
}

func addEnumHints(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)
	if enumArr, ok := result["enum"].([]interface{}); ok && len(enumArr) > 1 && len(enumArr) <= 10 {
		vals := make([]string, 0, len(enumArr))
		for _, v := range enumArr {
			vals = append(vals, fmt.Sprintf("%v", v))
		}
		result = appendDescriptionHint(result, fmt.Sprintf("Allowed: %s", strings.Join(vals, ", ")))
	}
	if props, ok := result["properties"].(map[string]interface{}); ok {
		newProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]interface{}); ok {
				newProps[k] = addEnumHints(vm)
			} else {
				newProps[k] = v
			}
		}
		result["properties"] = newProps
	}
	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = addEnumHints(items)
	}
	return result
}

func addAdditionalPropertiesHints(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)
	if result["additionalProperties"] == false {
		result = appendDescriptionHint(result, "No extra properties allowed")
	}
	if props, ok := result["properties"].(map[string]interface{}); ok {
		newProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]interface{}); ok {
				newProps[k] = addAdditionalPropertiesHints(vm)
			} else {
				newProps[k] = v
			}
		}
		result["properties"] = newProps
	}
	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = addAdditionalPropertiesHints(items)
	}
	return result
}

func moveConstraintsToDescription(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	constraints := []string{"minLength", "maxLength", "pattern", "minimum", "maximum", "minItems", "maxItems", "format"}
	result := copyMap(schema)
	for _, c := range constraints {
		if value, ok := result[c]; ok {
			if _, isMap := value.(map[string]interface{}); !isMap {
				result = appendDescriptionHint(result, fmt.Sprintf("%s: %v", c, value))
			}
		}
	}
	if props, ok := result["properties"].(map[string]interface{}); ok {
		newProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]interface{}); ok {
				newProps[k] = moveConstraintsToDescription(vm)
			} else {
				newProps[k] = v
			}
		}
		result["properties"] = newProps
	}
	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = moveConstraintsToDescription(items)
	}
	return result
}

func flattenTypeArrays(schema map[string]interface{}, nullableProps map[string]bool, currentPropName string) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	if typeArr, ok := result["type"].([]interface{}); ok {
		hasNull := false
		var nonNull []string
		for _, t := range typeArr {
			if ts, ok := t.(string); ok {
				if ts == "null" {
					hasNull = true
				} else if ts != "" {
					nonNull = append(nonNull, ts)
				}
			}
		}
		firstType := "string"
		if len(nonNull) > 0 {
			firstType = nonNull[0]
		}
		result["type"] = firstType
		if len(nonNull) > 1 {
			result = appendDescriptionHint(result, fmt.Sprintf("Accepts: %s", strings.Join(nonNull, " | ")))
		}
		if hasNull {
			result = appendDescriptionHint(result, "nullable")
			if nullableProps != nil && currentPropName != "" {
				nullableProps[currentPropName] = true
			}
		}
	}

	if props, ok := result["properties"].(map[string]interface{}); ok {
		childNullable := make(map[string]bool)
		newProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]interface{}); ok {
				newProps[k] = flattenTypeArrays(vm, childNullable, k)
			} else {
				newProps[k] = v
			}
		}
		result["properties"] = newProps

		if required, ok := result["required"].([]interface{}); ok && len(childNullable) > 0 {
			newRequired := make([]interface{}, 0, len(required))
			for _, r := range required {
				if rs, ok := r.(string); ok && !childNullable[rs] {
					newRequired = append(newRequired, rs)
				}
			}
			if len(newRequired) == 0 {
				delete(result, "required")
			} else {
				result["required"] = newRequired
			}
		}
	}

	if items, ok := result["items"].(map[string]interface{}); ok {
		result["items"] = flattenTypeArrays(items, nullableProps, "")
	} else if itemsArr, ok := result["items"].([]interface{}); ok {
		newItems := make([]interface{}, 0, len(itemsArr))
		for _, item := range itemsArr {
			if im, ok := item.(map[string]interface{}); ok {
				newItems = append(newItems, flattenTypeArrays(im, nullableProps, ""))
			} else {
				newItems = append(newItems, item)
			}
		}
		result["items"] = newItems
	}
	return result
}

func toGoogleType(typeName string) string {
	if typeName == "" {
		return typeName
	}
	typeMap := map[string]string{
		"string": "STRING", "number": "NUMBER", "integer": "INTEGER",
		"boolean": "BOOLEAN", "array": "ARRAY", "object": "OBJECT",
		"null": "STRING",
	}
	if upper, ok := typeMap[strings.ToLower(typeName)]; ok {
		return upper
	}
	return strings.ToUpper(typeName)
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func unique(arr []string) []string {
	seen := make(map[string]bool, len(arr))
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
