// Package docs registers the swagger document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "termsOfService": "http://swagger.io/terms/",
        "contact": {
            "name": "API Support",
            "email": "support@fee-recon.local"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/reconciliation/run": {
            "post": {
                "description": "Process unread payment emails for one school, or for every school when school_id is omitted",
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Run reconciliation",
                "parameters": [
                    {"type": "string", "description": "School ID", "name": "school_id", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/reconciliation/logs": {
            "get": {
                "description": "Paginated payment email log, newest first",
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "List payment logs",
                "parameters": [
                    {"type": "string", "description": "School ID", "name": "school_id", "in": "query"},
                    {"enum": ["processing", "matched", "unmatched"], "type": "string", "description": "Log status", "name": "status", "in": "query"},
                    {"type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "description": "Page size", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/reconciliation/stats": {
            "get": {
                "description": "Count and total amount of fee payments per status for a school",
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Fee payment statistics",
                "parameters": [
                    {"type": "string", "description": "School ID", "name": "school_id", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/reconciliation/payments/{id}/verify": {
            "post": {
                "description": "Mark a pending fee payment paid with an administrator-supplied transaction id",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Verify a fee payment manually",
                "parameters": [
                    {"type": "string", "description": "Fee payment ID", "name": "id", "in": "path", "required": true},
                    {"description": "Verification request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.VerifyPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/reconciliation/repair": {
            "post": {
                "description": "Settle installments whose fee payment is paid but whose installment is not",
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Repair ledger drift",
                "parameters": [
                    {"type": "string", "description": "School ID", "name": "school_id", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/reconciliation/health": {
            "get": {
                "description": "Scheduler counters and schools whose mailbox needs re-authorization",
                "produces": ["application/json"],
                "tags": ["reconciliation"],
                "summary": "Reconciliation health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        }
    },
    "definitions": {
        "handler.VerifyPaymentRequest": {
            "type": "object",
            "required": ["school_id", "transaction_id"],
            "properties": {
                "payer_upi_id": {"type": "string"},
                "school_id": {"type": "string"},
                "transaction_id": {"type": "string", "maxLength": 35, "minLength": 6}
            }
        },
        "response.ErrorDetail": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "details": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "response.PageMeta": {
            "type": "object",
            "properties": {
                "limit": {"type": "integer"},
                "page": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "response.Response": {
            "type": "object",
            "properties": {
                "data": {},
                "error": {"$ref": "#/definitions/response.ErrorDetail"},
                "message": {"type": "string"},
                "meta": {"$ref": "#/definitions/response.PageMeta"},
                "success": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Fee Payment Reconciliation API",
	Description:      "Reconciles UPI payment notification emails against pending school fee payments",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
