package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The store rewrites whole JSON documents with no transaction guarantee, so
// anything read back from disk is validated against a schema before use.
// Documents that fail validation are treated as absent by the callers.

const manifestSchema = `{
  "type": "object",
  "required": ["job_id", "name", "status", "total_images", "processed_images", "images_with_detections", "created_at", "parameters"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "status": {"type": "string", "enum": ["queued", "processing", "completed", "failed"]},
    "total_images": {"type": "integer", "minimum": 0},
    "processed_images": {"type": "integer", "minimum": 0},
    "images_with_detections": {"type": "integer", "minimum": 0},
    "created_at": {"type": "string"},
    "completed_at": {"type": ["string", "null"]},
    "parameters": {
      "type": "object",
      "properties": {
        "confidence_threshold": {"type": "number"}
      }
    }
  }
}`

const detectionsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["filename", "detections", "success"],
    "properties": {
      "filename": {"type": "string", "minLength": 1},
      "detections": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["bbox", "confidence", "class"],
          "properties": {
            "bbox": {"type": "array", "items": {"type": "integer"}, "minItems": 4, "maxItems": 4},
            "confidence": {"type": "number"},
            "class": {"type": "string"}
          }
        }
      },
      "success": {"type": "boolean"},
      "error": {"type": ["string", "null"]}
    }
  }
}`

var (
	compiledManifestSchema   = mustCompileSchema("manifest.json", manifestSchema)
	compiledDetectionsSchema = mustCompileSchema("detections.json", detectionsSchema)
)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(raw))); err != nil {
		panic(err)
	}
	return compiler.MustCompile(name)
}

func validateDocument(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("document does not match schema: %w", err)
	}
	return nil
}
