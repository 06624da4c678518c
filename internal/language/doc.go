// Package language holds the fixed set of supported low-resource languages and
// the case-insensitive lookup every validator and filter relies on.
package language
