package types

import (
	"fmt"
	"strings"
)

// ProcessID names a process as process:package:publisher.
type ProcessID struct {
	Process   string
	Package   string
	Publisher string
}

// ParseProcessID parses "process:package:publisher".
func ParseProcessID(s string) (ProcessID, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return ProcessID{}, fmt.Errorf("invalid process id %q: want process:package:publisher", s)
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "@ ") {
			return ProcessID{}, fmt.Errorf("invalid process id %q: empty or malformed segment", s)
		}
	}
	return ProcessID{Process: parts[0], Package: parts[1], Publisher: parts[2]}, nil
}

func (p ProcessID) String() string {
	if p.IsZero() {
		return ""
	}
	return p.Process + ":" + p.Package + ":" + p.Publisher
}

// PackageID returns package:publisher.
func (p ProcessID) PackageID() string { return p.Package + ":" + p.Publisher }

func (p ProcessID) IsZero() bool { return p == ProcessID{} }

func (p ProcessID) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *ProcessID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = ProcessID{}
		return nil
	}
	v, err := ParseProcessID(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Address is a process on a node: node@process:package:publisher.
type Address struct {
	Node    string
	Process ProcessID
}

// ParseAddress parses "node@process:package:publisher".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	node, proc, ok := strings.Cut(s, "@")
	if !ok || node == "" || strings.ContainsAny(node, ": ") {
		return Address{}, fmt.Errorf("invalid address %q: want node@process:package:publisher", s)
	}
	pid, err := ParseProcessID(proc)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address{Node: node, Process: pid}, nil
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return a.Node + "@" + a.Process.String()
}

func (a Address) IsZero() bool { return a.Node == "" && a.Process.IsZero() }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = Address{}
		return nil
	}
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
