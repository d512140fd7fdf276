// Package advisory adapts a language model into the conflict advisor used by the engine.
// It supports Anthropic and OpenAI, with retry logic, rate limiting and response caching.
// Everything the model returns is untrusted; the engine validates it before any rule write.
package advisory
