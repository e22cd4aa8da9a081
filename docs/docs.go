// Package docs registers the swagger document served at /swagger/doc.json.
// Regenerate with: swag init -g cmd/api/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs by status",
                "parameters": [
                    {"type": "string", "description": "pending|processing|completed|failed", "name": "status", "in": "query"},
                    {"type": "integer", "description": "max rows (default 50, max 500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/httptransport.jobResp"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Schedule a job",
                "parameters": [
                    {"description": "job", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.createJobDTO"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.idResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [{"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.jobResp"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/bookings": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["bookings"],
                "summary": "Create a booking and queue it for geocoding",
                "parameters": [
                    {"description": "booking", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.createBookingDTO"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.createBookingResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/zones": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["zones"],
                "summary": "Create a service zone",
                "parameters": [
                    {"description": "zone", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.createZoneDTO"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.idResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/route-groups/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["routes"],
                "summary": "Get a route group with its stops in route order",
                "parameters": [{"type": "string", "description": "route group id (uuid)", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.routeGroupResp"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/route-groups/{id}/optimize": {
            "post": {
                "produces": ["application/json"],
                "tags": ["routes"],
                "summary": "Queue an immediate optimization of one route group",
                "parameters": [{"type": "string", "description": "route group id (uuid)", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.jobIDResp"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        }
    },
    "definitions": {
        "httptransport.apiError": {"type": "object", "properties": {"code": {"type": "string"}, "message": {"type": "string"}}},
        "httptransport.idResp": {"type": "object", "properties": {"id": {"type": "string"}}},
        "httptransport.jobIDResp": {"type": "object", "properties": {"jobId": {"type": "string"}}},
        "httptransport.createJobDTO": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "payload": {"type": "object"},
                "priority": {"type": "integer"},
                "maxAttempts": {"type": "integer"},
                "runAt": {"type": "string", "format": "date-time"}
            }
        },
        "httptransport.jobResp": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "status": {"type": "string"},
                "priority": {"type": "integer"},
                "attempts": {"type": "integer"},
                "max_attempts": {"type": "integer"},
                "payload": {"type": "object"},
                "run_at": {"type": "string"},
                "last_error": {"type": "string"},
                "completed_at": {"type": "string"},
                "cron": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "httptransport.createBookingDTO": {
            "type": "object",
            "properties": {
                "customerName": {"type": "string"},
                "email": {"type": "string"},
                "address": {"type": "string"},
                "serviceDate": {"type": "string", "example": "2026-04-02"},
                "timeSlot": {"type": "string"}
            }
        },
        "httptransport.createBookingResp": {"type": "object", "properties": {"id": {"type": "string"}, "jobId": {"type": "string"}}},
        "httptransport.createZoneDTO": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "lat": {"type": "number"},
                "lng": {"type": "number"},
                "radiusMi": {"type": "number"}
            }
        },
        "httptransport.routeGroupResp": {
            "type": "object",
            "properties": {
                "group": {"type": "object"},
                "stops": {"type": "array", "items": {"type": "object"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Field Route Service API",
	Description:      "Booking intake, job inspection and route planning for field-service crews.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
