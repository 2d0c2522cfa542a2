// Package docs provides the generated OpenAPI documentation.
// Regenerate with: swag init -g cmd/server/main.go -o docs
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
        "/upload/": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "Upload a medical document image",
                "description": "Accepts a JPG or PNG image and queues it for ICD-10 code extraction",
                "parameters": [
                    {
                        "type": "file",
                        "description": "Image to upload (JPG or PNG)",
                        "name": "file",
                        "in": "formData",
                        "required": true
                    }
                ],
                "responses": {
                    "202": {"description": "Document accepted for processing"},
                    "400": {"description": "Missing file or unsupported type"},
                    "413": {"description": "File too large"},
                    "500": {"description": "Upload failed"}
                }
            }
        },
        "/documents": {
            "get": {
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "List documents",
                "parameters": [
                    {"type": "integer", "name": "offset", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "List of documents"}
                }
            }
        },
        "/documents/{id}/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["documents"],
                "summary": "Get document processing status",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Current document state"},
                    "404": {"description": "Document not found"}
                }
            }
        },
        "/documents/{id}/file": {
            "get": {
                "tags": ["documents"],
                "summary": "Download the original document image",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "302": {"description": "Redirect to the presigned download URL"},
                    "404": {"description": "Document not found"}
                }
            }
        },
        "/documents/{id}/codes.csv": {
            "get": {
                "produces": ["text/csv"],
                "tags": ["documents"],
                "summary": "Export extracted codes as CSV",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "CSV file"},
                    "400": {"description": "Document not completed"},
                    "404": {"description": "Document not found"}
                }
            }
        },
        "/codes/{code}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["codes"],
                "summary": "Look up an ICD-10 code",
                "parameters": [
                    {"type": "string", "name": "code", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Catalog entry"},
                    "404": {"description": "Code not found"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Medcoder API",
	Description:      "Extracts ICD-10 diagnosis codes from uploaded medical document images",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
