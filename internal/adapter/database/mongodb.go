package database

import (
	"context"
	"fmt"

	"github.com/semmidev/snapvault/internal/config"
	"github.com/semmidev/snapvault/internal/domain"
)

type MongoDBDatabase struct {
	config     *config.DatabaseConfig
	compressor domain.Compressor
}

func NewMongoDB(cfg *config.DatabaseConfig, comp domain.Compressor) *MongoDBDatabase {
	return &MongoDBDatabase{config: cfg, compressor: comp}
}

// Dump writes a mongodump archive to stdout and gzips it into outputPath.
// mongodump's own --gzip is not used so the archive is validated the same
// way as every other dump.
func (m *MongoDBDatabase) Dump(ctx context.Context, outputPath string) (domain.DumpArtifact, string, error) {
	args := []string{
		fmt.Sprintf("--uri=%s", m.config.URL),
		"--archive",
	}

	return dumpCommand{
		tool:       toolOrDefault(m.config.Tool, "mongodump"),
		args:       args,
		options:    m.config.Options,
		timeout:    m.config.Timeout,
		compressor: m.compressor,
	}.run(ctx, outputPath)
}

func (m *MongoDBDatabase) GetType() string {
	return "mongodb"
}
