package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "PresencePro Platform",
        "description": "Edge gateway and notification dispatch services",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Events", "description": "Domain event ingestion and replay"},
        {"name": "Notifications", "description": "Notification task lifecycle"},
        {"name": "Preferences", "description": "Per-recipient delivery preferences"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/health/services": {
            "get": {
                "summary": "Aggregated upstream service health",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "One or more services are down"}
                }
            }
        },
        "/gateway/info": {
            "get": {
                "summary": "Active route table",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/events": {
            "post": {
                "tags": ["Events"],
                "summary": "Ingest a domain event",
                "parameters": [
                    {"name": "X-Webhook-Signature", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IngestEventRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid signature"}
                }
            },
            "get": {
                "tags": ["Events"],
                "summary": "List queued events",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "source", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/events/{id}": {
            "get": {
                "tags": ["Events"],
                "summary": "Get one queued event",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/api/v1/events/{id}/replay": {
            "post": {
                "tags": ["Events"],
                "summary": "Replay a failed event",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Event is not failed"}
                }
            }
        },
        "/api/v1/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List notification tasks",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "channel", "in": "query", "type": "string"},
                    {"name": "recipient", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/notifications/{id}": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Get one notification task",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/api/v1/notifications/{id}/cancel": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Cancel a pending notification",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already terminal"}
                }
            }
        },
        "/api/v1/preferences/{recipient}": {
            "get": {
                "tags": ["Preferences"],
                "summary": "Get notification preferences",
                "parameters": [
                    {"name": "recipient", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Preferences"],
                "summary": "Update notification preferences",
                "parameters": [
                    {"name": "recipient", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/NotificationPreference"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "IngestEventRequest": {
            "type": "object",
            "required": ["event_type", "source_service"],
            "properties": {
                "event_id": {"type": "string"},
                "event_type": {"type": "string"},
                "source_service": {"type": "string"},
                "data": {"type": "object"}
            }
        },
        "NotificationPreference": {
            "type": "object",
            "properties": {
                "recipient": {"type": "string"},
                "email_enabled": {"type": "boolean"},
                "sms_enabled": {"type": "boolean"},
                "push_enabled": {"type": "boolean"},
                "digest_enabled": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
