// Package docs registers the bridge's swagger spec with swaggo/swag so
// swaggo/http-swagger can serve it at /swagger/index.html. It is the
// hand-maintained analogue of what `swag init` would emit from the
// @-annotations in internal/bridge/bridge.go; regenerate it by hand
// whenever a route or its annotations change.
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
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "summary": "Cumulative allocation and collection counters",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/snapshot": {
            "get": {
                "produces": ["application/json"],
                "summary": "Live-object snapshot as JSON records",
                "description": "One {address,size,generation,tag} object per live heap entry.",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/snapshot.flat": {
            "get": {
                "produces": ["application/octet-stream"],
                "summary": "Live-object snapshot as a packed binary array",
                "description": "One FlatEntrySize-byte little-endian record per live object, laid out at FlatFieldOffsetAddress/Size/Generation/Tag.",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/snapshot.avro": {
            "get": {
                "produces": ["application/avro-binary"],
                "summary": "Live-object snapshot as an Avro object container",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/stats.line": {
            "get": {
                "produces": ["text/plain"],
                "summary": "Cumulative counters as one InfluxDB line-protocol point",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/metrics": {
            "get": {
                "produces": ["text/plain"],
                "summary": "Cumulative counters as Prometheus exposition text",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        }
    }
}`

// SwaggerInfo holds the parsed API metadata and template swaggo/http-swagger
// renders at /swagger/index.html.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "heapgc diagnostics API",
	Description:      "Read-only HTTP surface for polling a single heap's stats and object snapshot out-of-band.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
