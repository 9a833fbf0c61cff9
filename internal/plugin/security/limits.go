package security

import "time"

// Resource limits applied to every plugin.
const (
	// DefaultStorageQuota is the per-plugin isolated storage quota in bytes.
	DefaultStorageQuota = 1 << 20 // 1 MiB

	// DefaultExecutionTimeout bounds a single plugin hook invocation.
	DefaultExecutionTimeout = 5 * time.Second

	// DefaultInstructionLimit caps Lua instructions per execution.
	DefaultInstructionLimit = 10_000_000
)

// Limits bundles the per-plugin resource limits.
type Limits struct {
	StorageQuota     int64
	ExecutionTimeout time.Duration
	InstructionLimit int64
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() Limits {
	return Limits{
		StorageQuota:     DefaultStorageQuota,
		ExecutionTimeout: DefaultExecutionTimeout,
		InstructionLimit: DefaultInstructionLimit,
	}
}
