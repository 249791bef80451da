package director

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// superviseStatusSize is the length of a runit supervise/status record
const superviseStatusSize = 20

// tai64Base is the TAI64 label of the Unix epoch (2^62 plus the 10s TAI offset)
const tai64Base = uint64(4611686018427387914)

// Offsets inside a supervise/status record
const (
	superviseOffNano   = 8
	superviseOffPID    = 12
	superviseOffPaused = 16
	superviseOffWant   = 17
	superviseOffTerm   = 18
)

// SuperviseStatus is a decoded runit supervise/status record
type SuperviseStatus struct {
	// PID of the supervised process, 0 when it is down
	PID int
	// Since is when the process entered its current state
	Since time.Time
	// Paused is set while the process is stopped with SIGSTOP
	Paused bool
	// WantUp is set when the supervisor is asked to keep the process up
	WantUp bool
	// Finishing is set while the finish script runs
	Finishing bool
}

// Running reports whether the record describes a live process that should stay up
func (s SuperviseStatus) Running() bool {
	return s.PID > 0 && s.WantUp && !s.Paused && !s.Finishing
}

// DecodeSuperviseStatus decodes a 20-byte runit supervise/status record.
// The timestamp is TAI64N big-endian and the pid is little-endian, as runsv
// writes them.
func DecodeSuperviseStatus(data []byte) (SuperviseStatus, error) {
	if len(data) != superviseStatusSize {
		return SuperviseStatus{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrStatusDecode, superviseStatusSize, len(data))
	}

	st := SuperviseStatus{
		PID:       int(binary.LittleEndian.Uint32(data[superviseOffPID:superviseOffPaused])),
		Paused:    data[superviseOffPaused] != 0,
		WantUp:    data[superviseOffWant] == 'u',
		Finishing: data[superviseOffTerm] != 0,
	}
	sec := binary.BigEndian.Uint64(data[:superviseOffNano])
	nano := binary.BigEndian.Uint32(data[superviseOffNano:superviseOffPID])
	if sec > tai64Base {
		st.Since = time.Unix(int64(sec-tai64Base), int64(nano))
	}
	return st, nil
}

// SuperviseServices checks services supervised by runsv, where a service
// "net/dhcp" is published while <Root>/net/dhcp/supervise/status reports a
// running process
type SuperviseServices struct {
	Root string
}

// NewSuperviseServices creates a checker rooted at root, DefaultServiceDir when empty
func NewSuperviseServices(root string) *SuperviseServices {
	if root == "" {
		root = DefaultServiceDir
	}
	return &SuperviseServices{Root: root}
}

// Status reads and decodes the supervise record of service
func (s *SuperviseServices) Status(service string) (SuperviseStatus, error) {
	clean := filepath.Clean("/" + service)
	if clean == "/" || strings.Contains(service, "..") {
		return SuperviseStatus{}, &OpError{Op: OpCheckService, Subject: service, Err: os.ErrInvalid}
	}
	data, err := os.ReadFile(filepath.Join(s.Root, clean, "supervise", "status"))
	if err != nil {
		return SuperviseStatus{}, &OpError{Op: OpCheckService, Subject: service, Err: err}
	}
	st, err := DecodeSuperviseStatus(data)
	if err != nil {
		return SuperviseStatus{}, &OpError{Op: OpCheckService, Subject: service, Err: err}
	}
	return st, nil
}

// Exists reports whether the service is running under its supervisor
func (s *SuperviseServices) Exists(service string) bool {
	st, err := s.Status(service)
	return err == nil && st.Running()
}

// NewServiceChecker returns the checker for kind, "dir" or "supervise"
func NewServiceChecker(kind, root string) (ServiceChecker, error) {
	switch kind {
	case "", ServiceCheckDir:
		return NewDirServices(root), nil
	case ServiceCheckSupervise:
		return NewSuperviseServices(root), nil
	default:
		return nil, fmt.Errorf("unknown service check %q", kind)
	}
}

// Service check kinds accepted by Config.ServiceCheck
const (
	ServiceCheckDir       = "dir"
	ServiceCheckSupervise = "supervise"
)
