package config

// Transport bindings.
const (
	TransportPipe = "pipe"
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

// Deployment modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

const (
	defaultTransport         = TransportPipe
	defaultListenHost        = "127.0.0.1"
	defaultListenPort        = 3333
	defaultShutdownTimeout   = 5
	defaultMaxRequestBytes   = 1 << 20
	defaultDeploymentMode    = ModeLocal
	defaultOutputRoot        = "~/.local/share/iara/artifacts"
	defaultCacheMaxEntries   = 100
	defaultCacheMaxMiB       = 512
	defaultAnalysisTimeout   = 300
	defaultSeparationTimeout = 1800
	defaultClassifyTimeout   = 300
	defaultPlotTimeout       = 120
	defaultInspectTimeout    = 30
	defaultHardLimit         = 7200
	defaultFFprobe           = "ffprobe"
	defaultAnalyzer          = "iara-features"
	defaultDemucs            = "demucs"
	defaultClassifier        = "iara-classify"
	defaultPlotter           = "iara-plot"
	defaultDevice            = "auto"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Transport:       defaultTransport,
			ListenHost:      defaultListenHost,
			ListenPort:      defaultListenPort,
			ShutdownTimeout: defaultShutdownTimeout,
			MaxRequestBytes: defaultMaxRequestBytes,
		},
		Deployment: Deployment{
			Mode:       defaultDeploymentMode,
			OutputRoot: defaultOutputRoot,
		},
		Cache: Cache{
			MaxEntries: defaultCacheMaxEntries,
			MaxMiB:     defaultCacheMaxMiB,
		},
		Timeouts: Timeouts{
			Analysis:       defaultAnalysisTimeout,
			Separation:     defaultSeparationTimeout,
			Classification: defaultClassifyTimeout,
			Visualization:  defaultPlotTimeout,
			Inspection:     defaultInspectTimeout,
			HardLimit:      defaultHardLimit,
		},
		Backends: Backends{
			FFprobe:    defaultFFprobe,
			Analyzer:   defaultAnalyzer,
			Demucs:     defaultDemucs,
			Classifier: defaultClassifier,
			Plotter:    defaultPlotter,
			Device:     defaultDevice,
			WorkDir:    defaultWorkDir(),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
