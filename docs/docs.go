// Package docs holds the OpenAPI description served under /swagger/ when the
// binary is built with -tags=swagger. Regenerate with `make swagger-gen`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "illustrationd maintainers"
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
        "/health/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Pipeline status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/v1/images/memory": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["images"],
                "summary": "Generate an illustration",
                "parameters": [
                    {"description": "Generation parameters", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.S3ImageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/images/subject": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["images"],
                "summary": "Generate an illustration",
                "parameters": [
                    {"description": "Generation parameters", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.S3ImageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/images/train-lora": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["training"],
                "summary": "Start adapter training",
                "parameters": [
                    {"description": "Training parameters", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.TrainLoRARequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.TrainLoRAResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/images/train-lora/{job_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["training"],
                "summary": "Training job status",
                "parameters": [
                    {"type": "string", "description": "Job id", "name": "job_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.TrainingJobStatus"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string", "example": "u1"},
                "prompt": {"type": "string"},
                "num_inference_steps": {"type": "integer", "example": 30},
                "ip_adapter_scale": {"type": "number", "example": 0.33},
                "negative_prompt": {"type": "string"},
                "style_prompt": {"type": "string"},
                "lora_id": {"type": "string"},
                "guidance_scale": {"type": "number", "example": 5},
                "seed": {"type": "integer", "example": 42}
            }
        },
        "types.S3ImageData": {
            "type": "object",
            "properties": {
                "s3_uri": {"type": "string"}
            }
        },
        "types.S3ImageResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/types.S3ImageData"}}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "message": {"type": "string"}
            }
        },
        "types.TrainLoRARequest": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "training_images_s3_path": {"type": "string"},
                "lora_name": {"type": "string"},
                "learning_rate": {"type": "number"},
                "num_train_epochs": {"type": "integer"},
                "lora_rank": {"type": "integer"},
                "lora_alpha": {"type": "integer"}
            }
        },
        "types.TrainLoRAResponse": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "status": {"type": "string"},
                "lora_id": {"type": "string"}
            }
        },
        "types.TrainingJobStatus": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "status": {"type": "string"},
                "lora_id": {"type": "string"},
                "lora_s3_uri": {"type": "string"},
                "error_message": {"type": "string"}
            }
        },
        "types.AdapterStatus": {
            "type": "object",
            "properties": {
                "adapter_id": {"type": "string"},
                "name": {"type": "string"},
                "source_key": {"type": "string"},
                "attached": {"type": "boolean"},
                "last_used_unix": {"type": "integer"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "device": {"type": "string"},
                "model_source": {"type": "string"},
                "adapters": {"type": "array", "items": {"$ref": "#/definitions/types.AdapterStatus"}},
                "cached_adapters": {"type": "array", "items": {"type": "string"}},
                "queue_len": {"type": "integer"},
                "inflight": {"type": "integer"},
                "max_queue_depth": {"type": "integer"},
                "error": {"type": "string"},
                "uptime_seconds": {"type": "integer"},
                "evictions_total": {"type": "integer"},
                "recent_events": {"type": "array", "items": {"$ref": "#/definitions/types.EventStatus"}}
            }
        },
        "types.EventStatus": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "adapter_id": {"type": "string"},
                "time": {"type": "integer"},
                "fields": {"type": "object"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "illustrationd API",
	Description:      "HTTP API for illustration generation and adapter training.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
