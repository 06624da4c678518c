// Package evaluation compares base and fine-tuned model completions for
// user supplied test prompts and scores them against an expected output.
package evaluation
