// Package docs registers the OpenAPI document served at /api/swagger.
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
        "/donation-requests": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Requests where the user is requester or donor, newest first.",
                "produces": ["application/json"],
                "tags": ["donation-requests"],
                "summary": "List a user's donation requests",
                "parameters": [
                    {"type": "string", "description": "User ID, defaults to the caller", "name": "userId", "in": "query"},
                    {"type": "integer", "default": 20, "description": "Page size", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.DonationRequestListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Admits the requester against the rate limit and stores a pending request.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["donation-requests"],
                "summary": "Create a donation request",
                "parameters": [
                    {"description": "Requester and donor", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.CreateDonationRequestBody"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/server.DonationRequestResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "description": "Applies accept, complete or cancel to an existing request.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["donation-requests"],
                "summary": "Apply a lifecycle action",
                "parameters": [
                    {"description": "Request id and action", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.UpdateDonationRequestBody"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.DonationRequestResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/donation-requests/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["donation-requests"],
                "summary": "Get a donation request",
                "parameters": [
                    {"type": "string", "description": "Request ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.DonationRequestResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/ws": {
            "get": {
                "description": "Websocket stream of donation_request.* events for the caller. Token via ?token= or bearer header.",
                "tags": ["realtime"],
                "summary": "Donation request event feed",
                "parameters": [
                    {"type": "string", "description": "JWT", "name": "token", "in": "query"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "426": {"description": "Upgrade Required"}
                }
            }
        }
    },
    "definitions": {
        "models.DonationRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "requesterId": {"type": "string"},
                "donorId": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "accepted", "completed", "cancelled"]},
                "contactUnlocked": {"type": "boolean"},
                "paymentRef": {"type": "string"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "models.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "details": {"type": "object", "additionalProperties": true}
            }
        },
        "server.CreateDonationRequestBody": {
            "type": "object",
            "required": ["requesterId", "donorId"],
            "properties": {
                "requesterId": {"type": "string", "maxLength": 64},
                "donorId": {"type": "string", "maxLength": 64},
                "paymentRef": {"type": "string", "maxLength": 128}
            }
        },
        "server.UpdateDonationRequestBody": {
            "type": "object",
            "required": ["requestId", "action"],
            "properties": {
                "requestId": {"type": "string"},
                "action": {"type": "string", "enum": ["accept", "complete", "cancel"]}
            }
        },
        "server.DonationRequestResponse": {
            "type": "object",
            "properties": {
                "donationRequest": {"$ref": "#/definitions/models.DonationRequest"}
            }
        },
        "server.DonationRequestListResponse": {
            "type": "object",
            "properties": {
                "donationRequests": {"type": "array", "items": {"$ref": "#/definitions/models.DonationRequest"}},
                "limit": {"type": "integer"},
                "offset": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8375",
	BasePath:         "/api",
	Schemes:          []string{"http", "https"},
	Title:            "Bloodbooth API",
	Description:      "Donation request lifecycle service: admission, accept/complete/cancel, realtime events.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
