package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Care Waitlist API",
        "description": "Capacity allocation and waitlist offer engine for childcare facilities",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Waitlist", "description": "Waitlist intake and lifecycle"},
        {"name": "Offers", "description": "Offer creation, responses and expiry"},
        {"name": "Capacity", "description": "Capacity snapshots, ranking and advancement"}
    ],
    "paths": {
        "/waitlist": {
            "get": {
                "tags": ["Waitlist"],
                "summary": "List waitlist entries",
                "parameters": [
                    {"name": "facilityId", "in": "query", "type": "string"},
                    {"name": "programId", "in": "query", "type": "string"},
                    {"name": "parentId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Waitlist"],
                "summary": "Join a facility waitlist",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/JoinRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate live entry", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Ineligible", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/waitlist/{entryId}": {
            "get": {
                "tags": ["Waitlist"],
                "summary": "Get a waitlist entry",
                "parameters": [
                    {"name": "entryId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Waitlist"],
                "summary": "Remove an entry from the waitlist",
                "parameters": [
                    {"name": "entryId", "in": "path", "required": true, "type": "string"},
                    {"name": "reason", "in": "query", "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/waitlist/{entryId}/history": {
            "get": {
                "tags": ["Waitlist"],
                "summary": "Get the audit trail for an entry",
                "parameters": [
                    {"name": "entryId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/waitlist/{entryId}/pause": {
            "post": {
                "tags": ["Waitlist"],
                "summary": "Pause a waitlist entry",
                "parameters": [
                    {"name": "entryId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/PauseRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/waitlist/{entryId}/resume": {
            "post": {
                "tags": ["Waitlist"],
                "summary": "Resume a paused waitlist entry",
                "parameters": [
                    {"name": "entryId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/offers": {
            "post": {
                "tags": ["Offers"],
                "summary": "Create an offer for a waitlist entry",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateOfferRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "No capacity or active offer exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Ineligible candidate", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/offers/sweep": {
            "post": {
                "tags": ["Offers"],
                "summary": "Run the expired-offer sweep immediately",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/offers/{offerId}": {
            "get": {
                "tags": ["Offers"],
                "summary": "Get an offer",
                "parameters": [
                    {"name": "offerId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/offers/{offerId}/respond": {
            "post": {
                "tags": ["Offers"],
                "summary": "Accept or decline an offer",
                "parameters": [
                    {"name": "offerId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RespondRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Offer already resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/offers/{offerId}/deposit": {
            "post": {
                "tags": ["Offers"],
                "summary": "Confirm the deposit on an accepted offer",
                "parameters": [
                    {"name": "offerId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/facilities/{facilityId}/offers": {
            "get": {
                "tags": ["Offers"],
                "summary": "List recent offers for a facility",
                "parameters": [
                    {"name": "facilityId", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/facilities/{facilityId}/capacity": {
            "get": {
                "tags": ["Capacity"],
                "summary": "Get the capacity snapshot for a facility or program",
                "parameters": [
                    {"name": "facilityId", "in": "path", "required": true, "type": "string"},
                    {"name": "programId", "in": "query", "type": "string"},
                    {"name": "slots", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/facilities/{facilityId}/ranking": {
            "get": {
                "tags": ["Capacity"],
                "summary": "Preview the ranked candidate list for a scope",
                "parameters": [
                    {"name": "facilityId", "in": "path", "required": true, "type": "string"},
                    {"name": "programId", "in": "query", "type": "string"},
                    {"name": "spotDate", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/facilities/{facilityId}/advance": {
            "post": {
                "tags": ["Capacity"],
                "summary": "Offer a free spot to the next ranked candidate",
                "parameters": [
                    {"name": "facilityId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/AdvanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/facilities/{facilityId}/waitlist/export": {
            "get": {
                "tags": ["Capacity"],
                "summary": "Export the ranked waitlist as CSV or PDF",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "facilityId", "in": "path", "required": true, "type": "string"},
                    {"name": "programId", "in": "query", "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Document"}
                }
            }
        }
    },
    "definitions": {
        "JoinRequest": {
            "type": "object",
            "properties": {
                "facility_id": {"type": "string"},
                "program_id": {"type": "string"},
                "parent_id": {"type": "string"},
                "child_name": {"type": "string"},
                "child_birth_date": {"type": "string"},
                "desired_start_date": {"type": "string"},
                "preferred_days": {"type": "array", "items": {"type": "string"}},
                "sibling_enrolled": {"type": "boolean"},
                "staff_child": {"type": "boolean"},
                "subsidy_approved": {"type": "boolean"},
                "corporate_partner": {"type": "boolean"},
                "special_needs": {"type": "boolean"},
                "in_service_area": {"type": "boolean"},
                "tags": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["facility_id", "parent_id", "child_name", "child_birth_date", "desired_start_date"]
        },
        "PauseRequest": {
            "type": "object",
            "properties": {
                "paused_until": {"type": "string"}
            }
        },
        "CreateOfferRequest": {
            "type": "object",
            "properties": {
                "waitlist_entry_id": {"type": "string"},
                "spot_available_date": {"type": "string"},
                "settings": {"$ref": "#/definitions/OfferSettings"},
                "created_by": {"type": "string"}
            },
            "required": ["waitlist_entry_id", "spot_available_date"]
        },
        "OfferSettings": {
            "type": "object",
            "properties": {
                "offer_window_hours": {"type": "integer"},
                "deposit_required": {"type": "boolean"},
                "deposit_amount": {"type": "number"},
                "required_documents": {"type": "array", "items": {"type": "string"}}
            }
        },
        "RespondRequest": {
            "type": "object",
            "properties": {
                "response": {"type": "string", "enum": ["ACCEPTED", "DECLINED"]},
                "notes": {"type": "string"},
                "deposit_paid": {"type": "boolean"}
            },
            "required": ["response"]
        },
        "AdvanceRequest": {
            "type": "object",
            "properties": {
                "program_id": {"type": "string"},
                "spot_available_date": {"type": "string"}
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
