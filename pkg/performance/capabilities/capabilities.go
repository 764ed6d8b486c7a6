// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package capabilities

// Capability represents a Linux capability
type Capability int

const (
	// CAP_SYS_ADMIN allows a range of system administration operations.
	// Grants unrestricted perf_event_open on kernels without CAP_PERFMON.
	CAP_SYS_ADMIN Capability = 21

	// CAP_PERFMON allows performance monitoring operations (kernel 5.8+).
	// The preferred capability for perf_event_open beyond what
	// perf_event_paranoid permits.
	CAP_PERFMON Capability = 38

	// CAP_IPC_LOCK allows locking memory, which covers perf ring buffer
	// mappings beyond RLIMIT_MEMLOCK.
	CAP_IPC_LOCK Capability = 14
)

// String returns the string representation of the capability
func (c Capability) String() string {
	switch c {
	case CAP_SYS_ADMIN:
		return "CAP_SYS_ADMIN"
	case CAP_PERFMON:
		return "CAP_PERFMON"
	case CAP_IPC_LOCK:
		return "CAP_IPC_LOCK"
	default:
		return "UNKNOWN"
	}
}

// PerfCapabilities returns the capabilities that unlock unrestricted
// counter access. Either one suffices; CAP_PERFMON is checked first on
// kernels that have it.
func PerfCapabilities() []Capability {
	return []Capability{CAP_PERFMON, CAP_SYS_ADMIN}
}

// Missing filters required down to the capabilities the current process
// lacks. A requirement list where any one member is held is treated as
// satisfied, matching how CAP_PERFMON and CAP_SYS_ADMIN overlap.
func Missing(required []Capability) ([]Capability, error) {
	if len(required) == 0 {
		return nil, nil
	}

	var missing []Capability
	for _, c := range required {
		ok, err := Has(c)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}
		missing = append(missing, c)
	}
	return missing, nil
}
