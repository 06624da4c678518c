// Package quality scores contributed text for linguistic accuracy and cultural
// authenticity.
//
// The Gemini analyzer asks a generateContent model for four 0-1 criteria and
// an overall score, then rescales the overall score to the 0-10 range stored
// on content. When analysis is disabled or unconfigured, the Neutral analyzer
// returns NeutralScore without contacting anything. Callers must never block
// content creation on analysis; failures fall back to NeutralScore.
package quality
