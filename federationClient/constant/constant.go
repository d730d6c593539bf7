package constant

import "os"

// <NodeDir>/                    (e.g., /home/federation/.cfederation)
// └── config/
//	└── cfederation_config.json
// └── data/
//	└── federation.db
//	└── shares/
//	    └── <share id>/<stage>.data

const (
	NodeDir = ".cfederation"

	ConfigSubdir   = "config"
	ConfigFileName = "cfederation_config.json"

	DataSubdir   = "data"
	SharesSubdir = "shares"

	// EnvPrefix prefixes environment overrides of start flags.
	EnvPrefix = "CFED"

	// LogTopic is the broadcast topic of log messages.
	LogTopic = "log"
)

var DefaultNodeHome = os.ExpandEnv("$HOME/") + NodeDir
