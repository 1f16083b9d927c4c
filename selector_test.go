package gembatch

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/obayesshelton/gembatch/batch"
	"github.com/obayesshelton/gembatch/config"
)

func TestSelectInputMode(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		threshold int
		size      int
		want      batch.InputMode
	}{
		{"auto under threshold", "auto", 1000, 999, batch.InputModeInline},
		{"auto at threshold", "auto", 1000, 1000, batch.InputModeInline},
		{"auto over threshold", "auto", 1000, 1001, batch.InputModeFile},
		{"forced inline ignores size", "inline", 1000, 5000, batch.InputModeInline},
		{"forced file ignores size", "file", 1000, 1, batch.InputModeFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.InputConfig{Mode: tt.mode, InlineThreshold: tt.threshold}
			assert.Equal(t, tt.want, SelectInputMode(cfg, tt.size))
		})
	}
}

func TestSelectInputMode_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("forced modes never depend on size", prop.ForAll(
		func(size int, threshold int, file bool) bool {
			mode := "inline"
			want := batch.InputModeInline
			if file {
				mode = "file"
				want = batch.InputModeFile
			}
			cfg := config.InputConfig{Mode: mode, InlineThreshold: threshold}
			return SelectInputMode(cfg, size) == want
		},
		gen.IntRange(0, 1<<30),
		gen.IntRange(1, 1<<30),
		gen.Bool(),
	))

	properties.Property("auto is monotone in size", prop.ForAll(
		func(threshold int, a int, b int) bool {
			if a > b {
				a, b = b, a
			}
			cfg := config.InputConfig{Mode: "auto", InlineThreshold: threshold}
			// Once the smaller payload needs a file, the larger one must too.
			if SelectInputMode(cfg, a) == batch.InputModeFile {
				return SelectInputMode(cfg, b) == batch.InputModeFile
			}
			return true
		},
		gen.IntRange(1, 1<<30),
		gen.IntRange(0, 1<<30),
		gen.IntRange(0, 1<<30),
	))

	properties.TestingRun(t)
}
