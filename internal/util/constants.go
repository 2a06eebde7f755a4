package util

const (
	EventsNone     = "none"
	EventsRedis    = "redis"
	EventsRabbitMQ = "rabbitmq"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)
