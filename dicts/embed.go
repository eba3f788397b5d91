// Package dicts embeds the built-in keyword dictionaries.
// It imports nothing from kwtag so any package may depend on it.
//
// Usage:
//
//	dictionary.LoadDir(dicts.FS, dicts.Dir)
package dicts

import "embed"

// Dir is the directory inside FS holding the dictionaries.
const Dir = "builtin"

//go:embed builtin/*.yaml
var FS embed.FS
