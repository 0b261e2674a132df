package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "ANETI API",
        "description": "Membership association platform: applications, plan changes, notifications",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Registration and session management"},
        {"name": "Applications", "description": "Membership application lifecycle"},
        {"name": "Plan Changes", "description": "Plan change requests"},
        {"name": "Plans", "description": "Membership plan catalog"},
        {"name": "Notifications", "description": "Member notifications and admin broadcasts"},
        {"name": "Connections", "description": "Member-to-member connections"},
        {"name": "Groups", "description": "Member groups"},
        {"name": "Users", "description": "Profiles and the admin roster"}
    ],
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["Auth"],
                "summary": "Register a member account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email already registered"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate and obtain tokens",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate a refresh token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/reset-password": {
            "post": {
                "tags": ["Auth"],
                "summary": "Request a password reset token",
                "responses": {
                    "202": {"description": "Accepted"}
                }
            }
        },
        "/auth/reset-password/confirm": {
            "post": {
                "tags": ["Auth"],
                "summary": "Reset password with a one-time token",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/applications": {
            "post": {
                "tags": ["Applications"],
                "summary": "Submit a membership application",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitApplicationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Application already exists"}
                }
            }
        },
        "/applications/me": {
            "get": {
                "tags": ["Applications"],
                "summary": "Fetch the caller's application",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No application on file"}
                }
            }
        },
        "/applications/{id}": {
            "get": {
                "tags": ["Applications"],
                "summary": "Fetch an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/documents": {
            "post": {
                "tags": ["Applications"],
                "summary": "Provide requested documents",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Application is not awaiting documents"}
                }
            }
        },
        "/applications/{id}/appeal": {
            "post": {
                "tags": ["Applications"],
                "summary": "Appeal a rejection",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Application is not rejected"}
                }
            }
        },
        "/applications/{id}/history": {
            "get": {
                "tags": ["Applications"],
                "summary": "Review history for an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/applications": {
            "get": {
                "tags": ["Applications"],
                "summary": "List applications",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "userId", "in": "query", "type": "string"},
                    {"name": "planId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/applications/{id}/approve": {
            "post": {
                "tags": ["Applications"],
                "summary": "Approve a pending application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Application was already processed"}
                }
            }
        },
        "/admin/applications/{id}/reject": {
            "post": {
                "tags": ["Applications"],
                "summary": "Reject a pending application or request documents",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectApplicationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Application was already processed"}
                }
            }
        },
        "/plan-change-requests": {
            "get": {
                "tags": ["Plan Changes"],
                "summary": "List plan change requests",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Plan Changes"],
                "summary": "Request a plan change",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitPlanChangeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "A pending request already exists"}
                }
            }
        },
        "/admin/plan-change-requests/{id}/approve": {
            "post": {
                "tags": ["Plan Changes"],
                "summary": "Approve a plan change request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/plan-change-requests/{id}/reject": {
            "post": {
                "tags": ["Plan Changes"],
                "summary": "Reject a plan change request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plans": {
            "get": {
                "tags": ["Plans"],
                "summary": "List membership plans",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List the caller's notifications",
                "parameters": [
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications/unread-count": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Count unread notifications",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/notifications/broadcast": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Broadcast an announcement",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BroadcastRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Dispatch failed for all recipients"}
                }
            }
        },
        "/connections": {
            "get": {
                "tags": ["Connections"],
                "summary": "List the caller's connections",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Connections"],
                "summary": "Send a connection request",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/groups": {
            "get": {
                "tags": ["Groups"],
                "summary": "List groups",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Groups"],
                "summary": "Create a group",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/groups/{id}/members": {
            "get": {
                "tags": ["Groups"],
                "summary": "List a group's members",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/users": {
            "get": {
                "tags": ["Users"],
                "summary": "List users",
                "parameters": [
                    {"name": "role", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/members/export": {
            "get": {
                "tags": ["Users"],
                "summary": "Export the member roster",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "produces": ["text/csv", "application/pdf"],
                "responses": {
                    "200": {"description": "Roster file"},
                    "403": {"description": "Exports disabled"}
                }
            }
        }
    },
    "definitions": {
        "RegisterRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "full_name": {"type": "string"}
            },
            "required": ["email", "password", "full_name"]
        },
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "SubmitApplicationRequest": {
            "type": "object",
            "properties": {
                "plan_id": {"type": "string"},
                "documents": {"type": "array", "items": {"$ref": "#/definitions/Document"}}
            },
            "required": ["plan_id"]
        },
        "RejectApplicationRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"},
                "request_documents": {"type": "boolean"}
            },
            "required": ["reason"]
        },
        "SubmitPlanChangeRequest": {
            "type": "object",
            "properties": {
                "requested_plan_id": {"type": "string"},
                "documents": {"type": "array", "items": {"$ref": "#/definitions/Document"}}
            },
            "required": ["requested_plan_id"]
        },
        "BroadcastRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "message": {"type": "string"},
                "targetType": {"type": "string"},
                "targetValue": {"type": "string"},
                "priority": {"type": "string"},
                "includeInactive": {"type": "boolean"}
            },
            "required": ["title", "message", "targetType"]
        },
        "Document": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "url": {"type": "string"},
                "uploaded_at": {"type": "string"}
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
