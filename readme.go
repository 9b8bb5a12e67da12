package crmindexer

import _ "embed"

// Readme is shown as the API description.
//
//go:embed README.md
var Readme string
