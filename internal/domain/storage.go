package domain

import "context"

type Storage interface {
	Upload(ctx context.Context, artifact DumpArtifact, identity BackupIdentity) (UploadDescriptor, error)
}

// Workspace holds the per-run local artifact.
type Workspace interface {
	GetPath(filename string) string
	Remove(filename string) error
}

type Notifier interface {
	Notify(ctx context.Context, outcome Outcome) error
}
