package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	DefaultFilePerm fs.FileMode = 0o644
	// PrivateFilePerm is used for run records and audit files that may embed host evidence.
	PrivateFilePerm fs.FileMode = 0o600
)

const (
	// DefaultCommandTimeout bounds a single command issued against a target.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultDialTimeout bounds establishing the SSH connection.
	DefaultDialTimeout = 10 * time.Second
	// MaxStreamBytes caps how much of stdout/stderr a target keeps per command.
	MaxStreamBytes = 256 * 1024
	// DefaultSSHPort is used when no port is configured for a remote target.
	DefaultSSHPort = 22
)
