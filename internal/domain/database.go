package domain

import "context"

// Dumper writes a compressed database archive to outputPath. Diagnostic
// output from a successful dump is returned as warnings.
type Dumper interface {
	Dump(ctx context.Context, outputPath string) (artifact DumpArtifact, warnings string, err error)
	GetType() string
}
