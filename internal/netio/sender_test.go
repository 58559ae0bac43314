//go:build linux

package netio

import (
	"net/netip"
	"testing"
)

func TestDirectedBroadcast(t *testing.T) {
	cases := []struct {
		name string
		addr string
		bits int
		want string
	}{
		{"slash24", "192.0.2.17", 24, "192.0.2.255"},
		{"slash30", "10.0.0.1", 30, "10.0.0.3"},
		{"slash32", "10.0.0.1", 32, "10.0.0.1"},
		{"slash0", "10.0.0.1", 0, "255.255.255.255"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DirectedBroadcast(netip.MustParseAddr(tc.addr), tc.bits)
			if got.String() != tc.want {
				t.Fatalf("DirectedBroadcast(%s/%d) = %s, want %s", tc.addr, tc.bits, got, tc.want)
			}
		})
	}
}

func TestSenderBindingLifecycle(t *testing.T) {
	logger := testLogger()
	s, err := NewSender(logger)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer s.Close()

	s.SetBinding(1, Binding{
		IfName:    "eth0",
		LocalAddr: netip.MustParseAddr("192.0.2.1"),
		Broadcast: netip.MustParseAddr("192.0.2.255"),
	})

	s.mu.RLock()
	_, ok := s.bound[1]
	s.mu.RUnlock()
	if !ok {
		t.Fatal("expected binding to be registered")
	}

	s.ClearBinding(1)
	s.mu.RLock()
	_, ok = s.bound[1]
	s.mu.RUnlock()
	if ok {
		t.Fatal("expected binding to be cleared")
	}
}
