package director

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"
)

// Checkpoint is the state handed from one incarnation of the daemon to the
// next across a re-exec. Field order of the encoding is fixed: run level,
// job count, then per job its name, pair count and (parent, child) pairs.
type Checkpoint struct {
	Runlevel string
	Jobs     map[string][]PIDPair
}

// maxCheckpointItems bounds counts read from a checkpoint
const maxCheckpointItems = 1 << 20

// MarshalBinary encodes the checkpoint. Jobs are written in name order.
func (c *Checkpoint) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	putUvarint := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		buf.Write(tmp[:n])
	}
	putVarint := func(v int64) {
		n := binary.PutVarint(tmp[:], v)
		buf.Write(tmp[:n])
	}
	putString := func(s string) {
		putUvarint(uint64(len(s)))
		buf.WriteString(s)
	}

	putString(c.Runlevel)

	names := make([]string, 0, len(c.Jobs))
	for name := range c.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	putUvarint(uint64(len(names)))
	for _, name := range names {
		putString(name)
		pairs := c.Jobs[name]
		putUvarint(uint64(len(pairs)))
		for _, p := range pairs {
			putVarint(int64(p.Parent))
			putVarint(int64(p.Child))
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a checkpoint written by MarshalBinary
func (c *Checkpoint) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	fail := func(what string, err error) error {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: %s: %v", ErrCheckpointDecode, what, err)
	}
	count := func(what string) (int, error) {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, fail(what, err)
		}
		if v > maxCheckpointItems {
			return 0, fail(what, fmt.Errorf("count %d too large", v))
		}
		return int(v), nil
	}
	str := func(what string) (string, error) {
		n, err := count(what)
		if err != nil {
			return "", err
		}
		if n > r.Len() {
			return "", fail(what, io.ErrUnexpectedEOF)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fail(what, err)
		}
		return string(b), nil
	}

	rl, err := str("run level")
	if err != nil {
		return err
	}
	jobs, err := count("job count")
	if err != nil {
		return err
	}

	out := Checkpoint{Runlevel: rl, Jobs: make(map[string][]PIDPair, jobs)}
	for i := 0; i < jobs; i++ {
		name, err := str("job name")
		if err != nil {
			return err
		}
		n, err := count("pair count")
		if err != nil {
			return err
		}
		pairs := make([]PIDPair, 0, n)
		for j := 0; j < n; j++ {
			parent, err := binary.ReadVarint(r)
			if err != nil {
				return fail("parent pid", err)
			}
			child, err := binary.ReadVarint(r)
			if err != nil {
				return fail("child pid", err)
			}
			pairs = append(pairs, PIDPair{Parent: int(parent), Child: int(child)})
		}
		out.Jobs[name] = pairs
	}
	if r.Len() != 0 {
		return fail("trailer", fmt.Errorf("%d unexpected bytes", r.Len()))
	}

	*c = out
	return nil
}

// WriteCheckpoint atomically writes c to path
func WriteCheckpoint(path string, c *Checkpoint) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return &OpError{Op: OpCheckpoint, Subject: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return &OpError{Op: OpCheckpoint, Subject: path, Err: err}
	}
	if err := renameio.WriteFile(path, data, CheckpointMode); err != nil {
		return &OpError{Op: OpCheckpoint, Subject: path, Err: err}
	}
	return nil
}

// ReadCheckpoint reads and decodes the checkpoint at path, then removes the file
func ReadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &OpError{Op: OpCheckpoint, Subject: path, Err: err}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &OpError{Op: OpCheckpoint, Subject: path, Err: err}
	}

	var c Checkpoint
	if err := c.UnmarshalBinary(data); err != nil {
		return nil, &OpError{Op: OpCheckpoint, Subject: path, Err: err}
	}
	return &c, nil
}
