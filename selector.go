package gembatch

import (
	"github.com/obayesshelton/gembatch/batch"
	"github.com/obayesshelton/gembatch/config"
)

// SelectInputMode picks how a batch's requests are transmitted. Forced
// modes win; otherwise the estimated JSONL size decides, with anything
// above the threshold going through a file upload. estimatedSize is the
// serialized size in bytes as computed by the uploader.
func SelectInputMode(cfg config.InputConfig, estimatedSize int) batch.InputMode {
	switch cfg.Mode {
	case "inline":
		return batch.InputModeInline
	case "file":
		return batch.InputModeFile
	}
	if estimatedSize > cfg.InlineThreshold {
		return batch.InputModeFile
	}
	return batch.InputModeInline
}
