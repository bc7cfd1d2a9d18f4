// Package tokens estimates prompt sizes for request logs.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Counter counts tokens with the cl100k_base encoding. The encoding is loaded
// on first use; when it cannot be loaded the counter falls back to roughly
// four bytes per token.
type Counter struct {
	once     sync.Once
	load     func() (encoder, error)
	encoding encoder
}

type encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

func NewCounter() *Counter {
	return &Counter{load: func() (encoder, error) {
		return tiktoken.GetEncoding(encodingName)
	}}
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		if enc, err := c.load(); err == nil {
			c.encoding = enc
		}
	})
	if c.encoding == nil {
		return Estimate(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Estimate approximates the token count of text without an encoding.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return max(len(text)/4, 1)
}
