package model

// SpiderConfig is the per-spider policy bundle.
type SpiderConfig struct {
	MaxDepth        int
	MaxConcurrency  int
	Categories      []CategoryEntry // insertion-ordered category -> policy
	Headers         map[string]string
	AllowURLRevisit bool
	// RateLimit is a per-domain politeness throttle in requests/sec (0 disables it),
	// supplementing the retry controller's own backoff.
	RateLimit float64
}

// CategoryEntry pairs a category with its policy, preserving the insertion
// order the retry controller must observe when scanning categories.
type CategoryEntry struct {
	Category RetryCategory
	Config   CategoryConfig
}

// DefaultSpiderConfig mirrors the reference implementation's defaults
// (max_depth=2, max_concurrency=10).
func DefaultSpiderConfig() *SpiderConfig {
	return &SpiderConfig{
		MaxDepth:       2,
		MaxConcurrency: 10,
		Headers:        make(map[string]string),
	}
}

// WithCategory appends a category/policy pair, preserving insertion order.
func (c *SpiderConfig) WithCategory(category RetryCategory, config CategoryConfig) *SpiderConfig {
	c.Categories = append(c.Categories, CategoryEntry{Category: category, Config: config})
	return c
}

// WithDepth sets MaxDepth and returns the config for chaining.
func (c *SpiderConfig) WithDepth(depth int) *SpiderConfig {
	c.MaxDepth = depth
	return c
}

// WithConcurrency sets MaxConcurrency and returns the config for chaining.
func (c *SpiderConfig) WithConcurrency(n int) *SpiderConfig {
	c.MaxConcurrency = n
	return c
}

// WithHeader sets a default header applied to every request.
func (c *SpiderConfig) WithHeader(key, value string) *SpiderConfig {
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	c.Headers[key] = value
	return c
}
