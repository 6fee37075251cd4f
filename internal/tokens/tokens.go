// Package tokens counts and trims text by model tokens.
package tokens

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "cl100k_base"

// ApproxEncoding selects the byte-length approximation without loading BPE
// ranks.
const ApproxEncoding = "approx"

// Counter counts tokens with a BPE encoding, or approximates four bytes per
// token when no encoding is available.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New loads encoding. tiktoken fetches the BPE ranks on first use, so when
// that fails (offline hosts) the counter degrades to the approximation.
func New(encoding string, logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if encoding == ApproxEncoding {
		return Approx()
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("token encoding unavailable; approximating token counts", "encoding", encoding, "error", err)
		return Approx()
	}
	return &Counter{enc: enc}
}

// Approx returns a counter that never loads an encoding.
func Approx() *Counter { return &Counter{} }

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil || c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Truncate returns the longest prefix of text that fits in limit tokens.
// A limit of zero or less disables truncation.
func (c *Counter) Truncate(text string, limit int) string {
	if limit <= 0 || c.Count(text) <= limit {
		return text
	}
	if c == nil || c.enc == nil {
		// keep rune boundaries
		r := []rune(text)
		n := min(limit*4, len(r))
		for n > 0 && len(string(r[:n])) > limit*4 {
			n--
		}
		return string(r[:n])
	}
	ids := c.enc.Encode(text, nil, nil)
	return c.enc.Decode(ids[:limit])
}
