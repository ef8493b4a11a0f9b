package swagger

import _ "embed"

// OpenAPI is the API description served at /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte

// redocPage renders OpenAPI with ReDoc loaded from its CDN.
//
//go:embed redoc.html
var redocPage []byte
