package brain

import "github.com/pkoukk/tiktoken-go"

// preciseTokenCounter is lazily initialized on first use; tiktoken's
// encoding tables are loaded once and reused across calls.
var preciseTokenCounter *tiktoken.Tiktoken

// preciseTokenCount returns an exact BPE token count for text using the
// cl100k_base encoding (the encoding shared by Claude/GPT-family models
// closely enough for cost-accounting purposes). Falls back to the
// char-based estimateTokens heuristic if the encoder fails to load
// (e.g. no network access to fetch its vocabulary file on first run).
func preciseTokenCount(text string) int {
	if preciseTokenCounter == nil {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return estimateTokens(text)
		}
		preciseTokenCounter = enc
	}
	return len(preciseTokenCounter.Encode(text, nil, nil))
}

// estimateTokens approximates a token count at one token per four
// characters, rounding up.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// UsageOrEstimate returns resp's reported token usage when the provider
// supplied it, or falls back to a precise tokenizer-based estimate of
// prompt/completion when a self-hosted or OpenAI-compatible endpoint
// reports zero usage (common for some Ollama/LM Studio configurations).
func UsageOrEstimate(resp *LLMResponse, prompt, completion string) {
	if resp.InputTokens == 0 && resp.OutputTokens == 0 {
		resp.InputTokens = preciseTokenCount(prompt)
		resp.OutputTokens = preciseTokenCount(completion)
	}
}
