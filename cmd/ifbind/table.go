package main

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"

	"github.com/nyiyui/linkd/binding"
	"gopkg.in/yaml.v3"
)

// File is the YAML form of a binding table.
type File struct {
	RecordID    int32     `yaml:"recordID"`
	ServiceFlag byte      `yaml:"serviceFlag"`
	Bindings    []Binding `yaml:"bindings"`
}

type Binding struct {
	Virtual        string             `yaml:"virtual"`
	Physical       string             `yaml:"physical"`
	Priority       uint8              `yaml:"priority"`
	Status         int32              `yaml:"status,omitempty"`
	ForcedIPv4     netip.Addr         `yaml:"forcedIPv4"`
	ForcedIPv4Mask netip.Addr         `yaml:"forcedIPv4Mask"`
	ForcedIPv6     netip.Addr         `yaml:"forcedIPv6"`
	ForceIP        binding.ForcedAddr `yaml:"forceIP,omitempty"`
	ID             int32              `yaml:"id,omitempty"`
}

func (f File) Snapshot() *binding.Snapshot {
	s := &binding.Snapshot{
		Header: binding.Header{
			ItemCount:   uint64(len(f.Bindings)),
			RecordID:    f.RecordID,
			ServiceFlag: f.ServiceFlag,
		},
		Records: make([]binding.Record, len(f.Bindings)),
	}
	for i, b := range f.Bindings {
		s.Records[i] = binding.Record{
			VirtualIf:      b.Virtual,
			PhysicalIf:     b.Physical,
			Priority:       b.Priority,
			Status:         b.Status,
			ForcedIPv4:     b.ForcedIPv4,
			ForcedIPv4Mask: b.ForcedIPv4Mask,
			ForcedIPv6:     b.ForcedIPv6,
			ForceIP:        b.ForceIP,
			ID:             b.ID,
		}
	}
	return s
}

func fileFromSnapshot(s *binding.Snapshot) File {
	f := File{
		RecordID:    s.Header.RecordID,
		ServiceFlag: s.Header.ServiceFlag,
		Bindings:    make([]Binding, len(s.Records)),
	}
	for i, r := range s.Records {
		f.Bindings[i] = Binding{
			Virtual:        r.VirtualIf,
			Physical:       r.PhysicalIf,
			Priority:       r.Priority,
			Status:         r.Status,
			ForcedIPv4:     r.ForcedIPv4,
			ForcedIPv4Mask: r.ForcedIPv4Mask,
			ForcedIPv6:     r.ForcedIPv6,
			ForceIP:        r.ForceIP,
			ID:             r.ID,
		}
	}
	return f
}

// compile converts YAML to the binary table, rejecting tables the daemon would reject.
func compile(r io.Reader, w io.Writer, l binding.Layout) error {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&f)
	if err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	s := f.Snapshot()
	err = binding.Validate(s)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	err = binding.Encode(&buf, s, l)
	if err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// dump prints a binary table as YAML.
func dump(r io.Reader, w io.Writer, l binding.Layout) error {
	s, err := binding.Decode(r, l)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	err = enc.Encode(fileFromSnapshot(s))
	if err != nil {
		return err
	}
	return enc.Close()
}
