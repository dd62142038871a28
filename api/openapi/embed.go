// Package openapi embeds the HTTP contract of the chat API.
package openapi

import _ "embed"

//go:embed openapi.yaml
var Document []byte
