package provider

type Option func(*Options)

type Options struct {
	ApiKey      string
	BaseURL     string
	Model       string
	Temperature float32
	TopP        float32
	TopK        int32
}

func WithApiKey(apiKey string) Option {
	return func(o *Options) {
		o.ApiKey = apiKey
	}
}

func WithBaseURL(baseURL string) Option {
	return func(o *Options) {
		o.BaseURL = baseURL
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithSampling sets temperature, top-p and top-k. Zero values leave the
// provider default in place.
func WithSampling(temperature, topP float32, topK int32) Option {
	return func(o *Options) {
		o.Temperature = temperature
		o.TopP = topP
		o.TopK = topK
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
