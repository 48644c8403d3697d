package config

const (
	defaultDataDir                  = "~/.local/share/photonix/data"
	defaultThumbnailDir             = "~/.local/share/photonix/cache/thumbnails"
	defaultRawDir                   = "~/.local/share/photonix/cache/raw-photos"
	defaultLogDir                   = "~/.local/share/photonix/logs"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultPollInterval             = 5
	defaultErrorRetryInterval       = 10
	defaultHeartbeatInterval        = 15
	defaultStaleTimeout             = 600
	defaultThreadCount              = 1
	defaultBatchSize                = 64
	defaultClassificationPoll       = 1
	defaultClassifierTimeoutSeconds = 60
	defaultRawCommand               = "dcraw"
	defaultRawTimeoutSeconds        = 120
	defaultNotifyTimeoutSeconds     = 10
)

// KnownClassifiers lists the classifier kinds accepted under [classifiers].
var KnownClassifiers = []string{"color", "event", "location", "face", "style", "object"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	classifiers := make(map[string]Classifier, len(KnownClassifiers))
	for _, kind := range KnownClassifiers {
		classifiers[kind] = Classifier{Enabled: true}
	}
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			ThumbnailDir: defaultThumbnailDir,
			RawDir:       defaultRawDir,
			LogDir:       defaultLogDir,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			StaleTimeout:       defaultStaleTimeout,
		},
		Classification: Classification{
			ThreadCount:  defaultThreadCount,
			BatchSize:    defaultBatchSize,
			PollInterval: defaultClassificationPoll,
		},
		Classifiers: classifiers,
		Thumbnails: Thumbnails{
			Sizes: []ThumbnailSize{
				{Width: 256, Height: 256, Crop: "cover", Quality: 50},
				{Width: 960, Height: 960, Crop: "contain", Quality: 75},
			},
		},
		Raw: Raw{
			Command:        defaultRawCommand,
			Args:           []string{"-e", "-c"},
			TimeoutSeconds: defaultRawTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
