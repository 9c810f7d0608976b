package config

const (
	defaultInputDir       = "~/books/incoming"
	defaultPDFOutputDir   = "~/books/library/pdf"
	defaultEbookOutputDir = "~/books/library/epub"
	defaultLogDir         = "~/.local/share/shelftamer/logs"

	defaultModelBaseURL       = "http://localhost:11434"
	defaultModel              = "llama3.2"
	defaultModelTimeout       = 120
	defaultMaxInFlight        = 2
	defaultRequestsPerMinute  = 30
	defaultWorkers            = 2
	defaultMaxPages           = 10
	defaultScanInterval       = 15
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultSettleSeconds      = 5

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// EnvModelBaseURL overrides models.base_url when set.
const EnvModelBaseURL = "OLLAMA_BASE_URL"

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:       defaultInputDir,
			PDFOutputDir:   defaultPDFOutputDir,
			EbookOutputDir: defaultEbookOutputDir,
			LogDir:         defaultLogDir,
		},
		Models: Models{
			BaseURL:           defaultModelBaseURL,
			Default:           defaultModel,
			TimeoutSeconds:    defaultModelTimeout,
			MaxInFlight:       defaultMaxInFlight,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			MaxPages:           defaultMaxPages,
			ScanInterval:       defaultScanInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			SettleSeconds:      defaultSettleSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
