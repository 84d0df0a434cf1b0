package md5

import (
	"encoding/hex"
	"testing"
)

func TestComputeVectors(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"a", "0cc175b9c0f1b6a831c399e269772661"},
		{"abc", "900150983cd24fb0d6963f7d28e17f72"},
		{"message digest", "f96b697d7cb7938d525a2f31aaf161d0"},
	}
	for _, c := range cases {
		var out [Size]byte
		Compute([]byte(c.in), &out)
		got := hex.EncodeToString(out[:])
		if got != c.want {
			t.Errorf("Compute(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}
