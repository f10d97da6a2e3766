package cfw

import "testing"

type stubPackage struct {
	name, version, mime string
}

func (s *stubPackage) Name() string    { return s.name }
func (s *stubPackage) Version() string { return s.version }
func (s *stubPackage) MIME() string    { return s.mime }
func (s *stubPackage) Control(string, []byte) (int, []byte, error) {
	return 200, nil, nil
}

func TestRegistry_LookupAndSupported(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubPackage{name: "msc-ivr", version: "1.0", mime: "application/mediaservercontrol+xml"})
	r.Register(&stubPackage{name: "msc-mixer", version: "1.0", mime: "application/simplemixercontrol+xml"})

	if _, ok := r.Lookup("msc-ivr"); !ok {
		t.Fatal("expected msc-ivr to be registered")
	}
	if _, ok := r.Lookup("msc-unknown"); ok {
		t.Fatal("unexpected lookup hit for unregistered package")
	}

	want := "msc-ivr/1.0,msc-mixer/1.0"
	if got := r.Supported(); got != want {
		t.Errorf("Supported() = %q, want %q", got, want)
	}

	names := r.Names()
	if !names["msc-ivr"] || !names["msc-mixer"] {
		t.Errorf("Names() = %v, missing expected entries", names)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubPackage{name: "msc-ivr", version: "1.0", mime: "text/plain"})
	r.Register(&stubPackage{name: "msc-ivr", version: "1.1", mime: "text/plain"})

	p, ok := r.Lookup("msc-ivr")
	if !ok {
		t.Fatal("expected msc-ivr registered")
	}
	if p.Version() != "1.1" {
		t.Errorf("Version() = %q, want %q", p.Version(), "1.1")
	}
}

func TestMatchRestrict(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		ip      string
		want    bool
	}{
		{name: "wildcard allows all", pattern: "0.0.0.0", ip: "203.0.113.9", want: true},
		{name: "empty allows all", pattern: "", ip: "203.0.113.9", want: true},
		{name: "exact match", pattern: "192.168.1.1", ip: "192.168.1.1", want: true},
		{name: "exact mismatch", pattern: "192.168.1.1", ip: "192.168.1.2", want: false},
		{name: "wildcard octet matches any value", pattern: "192.168.0.0", ip: "192.168.5.9", want: true},
		{name: "non-wildcard octet mismatch", pattern: "192.168.1.0", ip: "192.168.2.9", want: false},
		{name: "last octet wildcard", pattern: "192.168.1.0", ip: "192.168.1.200", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchRestrict(tt.pattern, tt.ip); got != tt.want {
				t.Errorf("matchRestrict(%q, %q) = %v, want %v", tt.pattern, tt.ip, got, tt.want)
			}
		})
	}
}
