package record

import (
	"testing"

	"github.com/ValentinKolb/varstore/lib/codec"
)

// address is a nested record used by profile
type address struct {
	City string
	// Zip was added in profile version 2
	Zip string
}

func (a *address) Version() int32 { return 2 }

func (a *address) Write(w *codec.Writer) {
	w.WriteString(a.City)
	w.WriteString(a.Zip)
}

func (a *address) Read(r *codec.Reader, version int32) {
	a.City = r.ReadString()
	if version >= 2 {
		a.Zip = r.ReadString()
	}
}

// profile is the top-level record used throughout these tests. Version 1
// had Name, Tags and Home. Version 2 added Karma and the Zip field on the
// nested address.
type profile struct {
	Base
	Name  string
	Tags  []string
	Home  *address
	Karma int64
}

func (p *profile) Version() int32 { return 2 }

func (p *profile) Write(w *codec.Writer) {
	w.WriteString(p.Name)
	codec.WriteSlice(w, p.Tags, func(w *codec.Writer, s string) { w.WriteString(s) })
	if p.Home == nil {
		WriteNested(w, nil)
	} else {
		WriteNested(w, p.Home)
	}
	w.WriteVarLong(p.Karma)
}

func (p *profile) Read(r *codec.Reader, version int32) {
	p.Name = r.ReadString()
	p.Tags = codec.ReadSlice(r, func(r *codec.Reader) string { return r.ReadString() })
	p.Home, _ = ReadNested(r, version, func() *address { return &address{} })
	if version >= 2 {
		p.Karma = r.ReadVarLong()
	}
}

// TestMarshalRoundTrip tests that a record survives a full encode/decode cycle
func TestMarshalRoundTrip(t *testing.T) {
	original := &profile{
		Name:  "alice",
		Tags:  []string{"admin", "builder"},
		Home:  &address{City: "Ulm", Zip: "89073"},
		Karma: 1337,
	}

	data := Marshal(original)

	decoded := &profile{}
	if err := Unmarshal(data, decoded); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if decoded.Name != "alice" {
		t.Errorf("Expected name alice, got %q", decoded.Name)
	}
	if len(decoded.Tags) != 2 || decoded.Tags[0] != "admin" || decoded.Tags[1] != "builder" {
		t.Errorf("Tags mismatch: %v", decoded.Tags)
	}
	if decoded.Home == nil || decoded.Home.City != "Ulm" || decoded.Home.Zip != "89073" {
		t.Errorf("Home mismatch: %+v", decoded.Home)
	}
	if decoded.Karma != 1337 {
		t.Errorf("Expected karma 1337, got %d", decoded.Karma)
	}
}

// TestOldVersionDecodes tests that data written by an older schema version
// decodes into the current type, with newer fields at their defaults. The
// nested record must see the same version as the top-level one.
func TestOldVersionDecodes(t *testing.T) {
	// hand-build a version 1 profile: no Karma, no Zip on the address
	w := codec.NewWriter()
	w.WriteVarInt(1)
	w.WriteString("bob")
	codec.WriteSlice(w, []string{"legacy"}, func(w *codec.Writer, s string) { w.WriteString(s) })
	w.WriteBool(true) // address present
	w.WriteString("Berlin")

	decoded := &profile{}
	if err := Unmarshal(w.Bytes(), decoded); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if decoded.Name != "bob" {
		t.Errorf("Expected name bob, got %q", decoded.Name)
	}
	if decoded.Karma != 0 {
		t.Errorf("Expected default karma, got %d", decoded.Karma)
	}
	if decoded.Home == nil || decoded.Home.City != "Berlin" {
		t.Errorf("Home mismatch: %+v", decoded.Home)
	}
	if decoded.Home.Zip != "" {
		t.Errorf("Expected default zip, got %q", decoded.Home.Zip)
	}
}

// TestNestedAbsent tests that a missing child record decodes to nil
func TestNestedAbsent(t *testing.T) {
	original := &profile{Name: "carol", Karma: 7}

	data := Marshal(original)

	decoded := &profile{}
	if err := Unmarshal(data, decoded); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if decoded.Home != nil {
		t.Errorf("Expected nil home, got %+v", decoded.Home)
	}
	if decoded.Karma != 7 {
		t.Errorf("Expected karma 7, got %d", decoded.Karma)
	}
}

// TestUnmarshalTruncated tests that cut-off data yields an error instead of
// a partially valid record with silent defaults
func TestUnmarshalTruncated(t *testing.T) {
	data := Marshal(&profile{Name: "dave", Tags: []string{"a", "b", "c"}})

	if err := Unmarshal(data[:len(data)/2], &profile{}); err == nil {
		t.Error("Expected an error for truncated data, got nil")
	}
}

// TestDirtyLifecycle tests the change tracking provided by Base
func TestDirtyLifecycle(t *testing.T) {
	p := &profile{Name: "erin"}

	if !p.IsDirty() {
		t.Error("Expected a fresh record to be dirty")
	}

	p.MarkSaved()
	if p.IsDirty() {
		t.Error("Expected record to be clean after MarkSaved")
	}

	p.Karma = 42
	p.MarkDirty()
	if !p.IsDirty() {
		t.Error("Expected record to be dirty after MarkDirty")
	}
}

// TestDirtyableDetection tests that Base satisfies Dirtyable through embedding
func TestDirtyableDetection(t *testing.T) {
	var rec Record = &profile{}

	d, ok := rec.(Dirtyable)
	if !ok {
		t.Fatal("Expected profile to implement Dirtyable via embedded Base")
	}
	if !d.IsDirty() {
		t.Error("Expected zero value to be dirty")
	}
}
