// Package prompts provides the phase prompt templates with local override
// support.
package prompts

import "embed"

//go:embed phases/*.md
var embeddedFS embed.FS
