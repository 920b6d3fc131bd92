package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Environment string

const (
	EnvironmentStaging Environment = "staging"
	EnvironmentUAT     Environment = "uat"
	EnvironmentProd    Environment = "prod"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ArchiveExt is appended to every dump filename.
const ArchiveExt = ".tar.gz"

var (
	projectSeparators = regexp.MustCompile(`[ /]`)
	projectInvalid    = regexp.MustCompile(`[^a-z0-9-]`)
	timestampSymbols  = regexp.MustCompile(`[:.]+`)
)

func ParseEnvironment(raw string) (Environment, error) {
	switch env := Environment(raw); env {
	case EnvironmentStaging, EnvironmentUAT, EnvironmentProd:
		return env, nil
	case "":
		return "", &ConfigValidationError{Field: "environment", Reason: "is required"}
	default:
		return "", &ConfigValidationError{
			Field:  "environment",
			Value:  raw,
			Reason: "must be one of staging, uat, prod",
		}
	}
}

func ParseFrequency(raw string) (Frequency, error) {
	switch freq := Frequency(raw); freq {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return freq, nil
	case "":
		return "", &ConfigValidationError{Field: "frequency", Reason: "is required"}
	default:
		return "", &ConfigValidationError{
			Field:  "frequency",
			Value:  raw,
			Reason: "must be one of daily, weekly, monthly",
		}
	}
}

// NormalizeProject lower-cases the name, turns spaces and slashes into
// hyphens and drops every character outside [a-z0-9-].
func NormalizeProject(raw string) string {
	name := strings.ToLower(raw)
	name = projectSeparators.ReplaceAllString(name, "-")
	return projectInvalid.ReplaceAllString(name, "")
}

// FormatTimestamp renders t as a millisecond UTC ISO-8601 string that is safe
// to use in file names.
func FormatTimestamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return timestampSymbols.ReplaceAllString(iso, "-")
}

// BackupIdentity names a single backup run. It is resolved once per run and
// never modified afterwards.
type BackupIdentity struct {
	Project     string
	Environment Environment
	Frequency   Frequency
	Timestamp   string
}

func NewIdentity(project, environment, frequency string, now time.Time) (BackupIdentity, error) {
	if project == "" {
		return BackupIdentity{}, &ConfigValidationError{Field: "project", Reason: "is required"}
	}

	normalized := NormalizeProject(project)
	if normalized == "" {
		return BackupIdentity{}, &ConfigValidationError{
			Field:  "project",
			Value:  project,
			Reason: "is empty after normalization",
		}
	}

	env, err := ParseEnvironment(environment)
	if err != nil {
		return BackupIdentity{}, err
	}

	freq, err := ParseFrequency(frequency)
	if err != nil {
		return BackupIdentity{}, err
	}

	return BackupIdentity{
		Project:     normalized,
		Environment: env,
		Frequency:   freq,
		Timestamp:   FormatTimestamp(now),
	}, nil
}

func (id BackupIdentity) Filename() string {
	return fmt.Sprintf("%s-%s-%s%s", id.Project, id.Environment, id.Timestamp, ArchiveExt)
}

func (id BackupIdentity) Prefix() string {
	return fmt.Sprintf("%s/%s/%s", id.Project, id.Environment, id.Frequency)
}

// Key is the object storage key the dump is uploaded under.
func (id BackupIdentity) Key() string {
	return id.Prefix() + "/" + id.Filename()
}

// DumpArtifact is the local archive produced by a dump. It lives for a single run.
type DumpArtifact struct {
	Path string
	Size int64
}

type UploadDescriptor struct {
	Bucket   string
	Key      string
	Checksum string
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	Identity   BackupIdentity
	Artifact   DumpArtifact
	Upload     UploadDescriptor
	Warnings   string
	Duration   time.Duration
	CleanupErr error
	Err        error
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}
