package opcode

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestLookup(t *testing.T) {
	c := qt.New(t)

	v1, err := Lookup(V1)
	c.Assert(err, qt.IsNil)
	c.Assert([]uint8{v1.Of(BOOT), v1.Of(UPLOAD), v1.Of(GO)}, qt.DeepEquals, []uint8{0x07, 0x08, 0x09})

	v2, err := Lookup(V2)
	c.Assert(err, qt.IsNil)
	c.Assert([]uint8{v2.Of(BOOT), v2.Of(UPLOAD), v2.Of(GO)}, qt.DeepEquals, []uint8{0x10, 0x11, 0x12})

	_, err = Lookup(Version(3))
	c.Assert(err, qt.ErrorMatches, "unknown protocol version 3")
}

func TestDecode(t *testing.T) {
	c := qt.New(t)
	v2, _ := Lookup(V2)

	cmd, ok := v2.Decode(0x11)
	c.Assert(ok, qt.IsTrue)
	c.Assert(cmd, qt.Equals, UPLOAD)

	// v1 opcodes mean nothing to a v2 bootloader.
	_, ok = v2.Decode(0x07)
	c.Assert(ok, qt.IsFalse)
}

func TestParseVersion(t *testing.T) {
	c := qt.New(t)
	for raw, want := range map[string]Version{"1": V1, "v1": V1, " V2 ": V2, "2": V2} {
		got, err := ParseVersion(raw)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, want)
	}
	for _, raw := range []string{"", "3", "two"} {
		_, err := ParseVersion(raw)
		c.Assert(err, qt.IsNotNil, qt.Commentf("input %q", raw))
	}
}

func TestCommandString(t *testing.T) {
	c := qt.New(t)
	c.Assert(BOOT.String(), qt.Equals, "Boot")
	c.Assert(UPLOAD.String(), qt.Equals, "Upload")
	c.Assert(GO.String(), qt.Equals, "Go")
	c.Assert(Command(7).String(), qt.Equals, "Command(7)")
}
