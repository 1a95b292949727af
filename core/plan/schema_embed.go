package plan

import "embed"

const planSchemaFile = "schema/plans.schema.json"

//go:embed schema/*.json
var planSchemaFS embed.FS
