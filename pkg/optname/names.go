package optname

const (
	Chunked        = "chunked"
	ChunkSize      = "chunk-size"
	ConnTimeout    = "connect-timeout"
	CookieDir      = "cookie-dir"
	CookieFile     = "cookie-file"
	EnvFile        = "env-file"
	FormData       = "data"
	Header         = "header"
	JSON           = "json"
	LoggingLevel   = "log-level"
	ManifestFormat = "format"
	MetricsFile    = "metrics-file"
	Overwrite      = "overwrite"
	PIDFile        = "pid-file"
	Retries        = "retries"
	Timeout        = "timeout"
	Verbose        = "verbose"
	VerifyTLS      = "verify-tls"
)
