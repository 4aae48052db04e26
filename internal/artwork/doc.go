// Package artwork implements the image stage capability: cover images
// generated from the entity's style and music prompt. Providers are
// pluggable behind the Provider interface; openai talks to an
// OpenAI-compatible images API and placeholder renders a deterministic
// gradient card locally for offline runs.
package artwork
