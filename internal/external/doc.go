// Package external manages raw import sources: uploaded files, payloads
// fetched from a URL, and Kaggle references recorded for later download.
// The import pipeline reads the stored payload and reports progress back
// through UpdateProgress.
package external
