package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/semmidev/snapvault/internal/config"
	"github.com/semmidev/snapvault/internal/domain"
)

// New returns the dumper for the configured database type.
func New(cfg *config.DatabaseConfig, comp domain.Compressor) (domain.Dumper, error) {
	switch cfg.Type {
	case "postgresql", "postgres":
		return NewPostgreSQL(cfg, comp), nil
	case "mongodb":
		return NewMongoDB(cfg, comp), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

type dumpCommand struct {
	tool       string
	args       []string
	options    string
	timeout    time.Duration
	compressor domain.Compressor
}

// run streams the tool's stdout through the compressor into outputPath and
// then checks the archive holds data.
func (d dumpCommand) run(ctx context.Context, outputPath string) (domain.DumpArtifact, string, error) {
	extra, err := splitOptions(d.options)
	if err != nil {
		return domain.DumpArtifact{}, "", &domain.DumpExecutionError{Tool: d.tool, ExitCode: -1, Err: err}
	}
	args := append(append([]string{}, d.args...), extra...)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return domain.DumpArtifact{}, "", &domain.DumpExecutionError{
			Tool:     d.tool,
			ExitCode: -1,
			Err:      fmt.Errorf("failed to create archive: %w", err),
		}
	}

	archive, err := d.compressor.NewWriter(file)
	if err != nil {
		file.Close()
		return domain.DumpArtifact{}, "", &domain.DumpExecutionError{Tool: d.tool, ExitCode: -1, Err: err}
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.tool, args...)
	cmd.Stdout = archive
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	closeErr := errors.Join(archive.Close(), file.Close())
	diagnostics := strings.TrimSpace(stderr.String())

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = fmt.Errorf("%w: %w", runErr, ctxErr)
		}
		return domain.DumpArtifact{}, "", &domain.DumpExecutionError{
			Tool:     d.tool,
			ExitCode: exitCode,
			Stderr:   diagnostics,
			Err:      runErr,
		}
	}

	if closeErr != nil {
		return domain.DumpArtifact{}, "", &domain.DumpValidationError{
			Path:   outputPath,
			Reason: "failed to finalize archive",
			Err:    closeErr,
		}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return domain.DumpArtifact{}, "", &domain.DumpValidationError{Path: outputPath, Reason: "stat archive", Err: err}
	}

	ok, err := d.compressor.HasContent(outputPath)
	if err != nil {
		return domain.DumpArtifact{}, "", &domain.DumpValidationError{Path: outputPath, Reason: "archive is unreadable", Err: err}
	}
	if !ok {
		return domain.DumpArtifact{}, "", &domain.DumpValidationError{
			Path:   outputPath,
			Reason: "archive decompresses to zero bytes",
			Err:    domain.ErrEmptyArchive,
		}
	}

	return domain.DumpArtifact{Path: outputPath, Size: info.Size()}, diagnostics, nil
}

// splitOptions splits extra tool flags the way a POSIX shell would, so quoted
// values stay one argument. Variables and backticks are not expanded.
func splitOptions(options string) ([]string, error) {
	args, err := shellwords.Parse(options)
	if err != nil {
		return nil, fmt.Errorf("invalid options %q: %w", options, err)
	}
	return args, nil
}

func toolOrDefault(tool, fallback string) string {
	if strings.TrimSpace(tool) == "" {
		return fallback
	}
	return tool
}
