// Package importer detects the shape of raw external payloads, parses them
// into loosely typed records, and maps source columns onto canonical fields.
//
// CSV parsing is intentionally naive: fields are split on commas and a single
// pair of surrounding double quotes is stripped. Embedded commas, quotes and
// escapes are not supported.
package importer
