// Package docs registers the docpipe OpenAPI document with swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/documents": {
            "get": {
                "tags": ["Documents"],
                "summary": "List documents",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "description": "Page size (default 50)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "Offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.Document"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Documents"],
                "summary": "Upload a document",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "file", "description": "Document", "name": "file", "in": "formData"},
                    {"type": "string", "description": "File name for raw uploads", "name": "filename", "in": "query"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/driving.IntakeResult"}},
                    "400": {"description": "Missing file", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "409": {"description": "Duplicate", "schema": {"$ref": "#/definitions/driving.IntakeResult"}}
                }
            }
        },
        "/documents/{id}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Get document status",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "description": "Document ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.DocumentDetail"}},
                    "404": {"description": "Document not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/documents/{id}/events": {
            "get": {
                "tags": ["Documents"],
                "summary": "Document audit history",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "description": "Document ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.AuditEvent"}}},
                    "404": {"description": "Document not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/documents/{id}/reprocess": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Pipeline"],
                "summary": "Reprocess a document",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "description": "Document ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/driving.RunHandle"}},
                    "404": {"description": "Document not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "422": {"description": "Immutable original missing", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/documents/{id}/reprocess-ocr": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Pipeline"],
                "summary": "Force OCR",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "description": "Document ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/driving.RunHandle"}},
                    "404": {"description": "Document not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "422": {"description": "Immutable original missing", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/documents/{id}/retry-destinations": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Pipeline"],
                "summary": "Retry failed destinations",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "description": "Document ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.RetryDestinationsResponse"}},
                    "404": {"description": "Document not found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/batches": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Pipeline"],
                "summary": "Submit a batch",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"description": "Batch selection", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/driving.BatchRequest"}}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/domain.BatchResult"}},
                    "400": {"description": "Invalid request body", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/queues": {
            "get": {
                "tags": ["Pipeline"],
                "summary": "Queue health",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/driving.QueueHealth"}},
                    "503": {"description": "Queue unreachable", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.Document": {"type": "object", "properties": {
            "id": {"type": "string"}, "content_hash": {"type": "string"}, "original_filename": {"type": "string"},
            "size": {"type": "integer"}, "mime_type": {"type": "string"}, "original_path": {"type": "string"},
            "processed_path": {"type": "string"}, "sidecar_path": {"type": "string"},
            "metadata": {"type": "object", "additionalProperties": {"type": "string"}},
            "parent_id": {"type": "string"}, "chunk_index": {"type": "integer"}, "current_run_id": {"type": "string"}
        }},
        "domain.StepRecord": {"type": "object", "properties": {
            "document_id": {"type": "string"}, "step": {"type": "string"}, "status": {"type": "string", "enum": ["pending", "in_progress", "success", "failure", "skipped"]},
            "started_at": {"type": "string"}, "completed_at": {"type": "string"}, "error": {"type": "string"}
        }},
        "domain.DocumentDetail": {"type": "object", "properties": {
            "document": {"$ref": "#/definitions/domain.Document"},
            "overall_status": {"type": "string", "enum": ["pending", "processing", "completed", "completed_with_errors", "failed"]},
            "steps": {"type": "object", "additionalProperties": {"$ref": "#/definitions/domain.StepRecord"}},
            "summary": {"type": "object"},
            "failed_step": {"$ref": "#/definitions/domain.StepRecord"},
            "can_retry": {"type": "boolean"},
            "tasks": {"type": "array", "items": {"$ref": "#/definitions/domain.Task"}}
        }},
        "domain.Task": {"type": "object", "properties": {
            "id": {"type": "string"}, "type": {"type": "string"}, "queue": {"type": "string"},
            "payload": {"type": "object", "additionalProperties": {"type": "string"}},
            "status": {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
            "attempts": {"type": "integer"}, "max_attempts": {"type": "integer"}, "error": {"type": "string"},
            "scheduled_for": {"type": "string"}
        }},
        "domain.AuditEvent": {"type": "object", "properties": {
            "id": {"type": "integer"}, "document_id": {"type": "string"}, "step": {"type": "string"},
            "status": {"type": "string"}, "message": {"type": "string"}, "created_at": {"type": "string"}
        }},
        "domain.BatchResult": {"type": "object", "properties": {
            "entries": {"type": "array", "items": {"type": "object"}}, "throttled": {"type": "boolean"}, "spread_ns": {"type": "integer"}
        }},
        "driving.IntakeResult": {"type": "object", "properties": {
            "documents": {"type": "array", "items": {"$ref": "#/definitions/domain.Document"}},
            "split": {"type": "boolean"}, "duplicate": {"type": "boolean"}
        }},
        "driving.RunHandle": {"type": "object", "properties": {"document_id": {"type": "string"}, "run_id": {"type": "string"}}},
        "driving.BatchRequest": {"type": "object", "properties": {
            "document_ids": {"type": "array", "items": {"type": "string"}}, "all_pending": {"type": "boolean"}, "force_ocr": {"type": "boolean"}
        }},
        "driving.QueueHealth": {"type": "object", "properties": {
            "queue": {"type": "object"}, "active": {"type": "integer"}, "reserved": {"type": "integer"},
            "documents": {"type": "object", "additionalProperties": {"type": "integer"}}, "credentials": {"type": "array", "items": {"type": "object"}}
        }},
        "http.ErrorResponse": {"type": "object", "properties": {"error": {"type": "string", "example": "invalid request body"}}},
        "http.RetryDestinationsResponse": {"type": "object", "properties": {
            "document_id": {"type": "string"}, "retried": {"type": "array", "items": {"type": "string"}}
        }}
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "docpipe API",
	Description:      "Document pipeline orchestration: intake, step status, reprocessing and destination retries.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
