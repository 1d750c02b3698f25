package archive

import (
	"github.com/tankobon/tankobon/pkg/config"
)

// OptionsFromConfig builds reader options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	tools := make([]ExternalTool, 0, len(cfg.RarTools))
	for _, t := range cfg.RarTools {
		tools = append(tools, ExternalTool{
			Name:      t.Name,
			Command:   t.Command,
			Args:      t.Args,
			ProbeArgs: t.ProbeArgs,
		})
	}

	return Options{
		Capabilities: Capabilities{
			Zip:       true,
			RarNative: cfg.RarNative,
			SevenZip:  cfg.SevenZip,
			Tar:       true,
			RarTools:  tools,
		},
		ExtractTimeout: cfg.RarExtractTimeout,
		ProbeTimeout:   cfg.RarProbeTimeout,
		MaxEntrySize:   cfg.MaxEntrySizeBytes,
	}
}
