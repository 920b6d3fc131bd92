package database

import (
	"context"
	"fmt"

	"github.com/semmidev/snapvault/internal/config"
	"github.com/semmidev/snapvault/internal/domain"
)

type PostgreSQLDatabase struct {
	config     *config.DatabaseConfig
	compressor domain.Compressor
}

func NewPostgreSQL(cfg *config.DatabaseConfig, comp domain.Compressor) *PostgreSQLDatabase {
	return &PostgreSQLDatabase{config: cfg, compressor: comp}
}

// Dump runs pg_dump in tar format and gzips its output into outputPath.
func (p *PostgreSQLDatabase) Dump(ctx context.Context, outputPath string) (domain.DumpArtifact, string, error) {
	args := []string{
		fmt.Sprintf("--dbname=%s", p.config.URL),
		"--format=tar",
	}

	return dumpCommand{
		tool:       toolOrDefault(p.config.Tool, "pg_dump"),
		args:       args,
		options:    p.config.Options,
		timeout:    p.config.Timeout,
		compressor: p.compressor,
	}.run(ctx, outputPath)
}

func (p *PostgreSQLDatabase) GetType() string {
	return "postgresql"
}
