package pathselect

import "testing"

import "github.com/pqtor/tor-pq/descriptor"

func TestSelectPathDistinctNodes(t *testing.T) {
	nodes := []descriptor.NodeInfo{
		{Hostname: "g1", Role: descriptor.RoleGuard, Identity: [20]byte{1}},
		{Hostname: "m1", Role: descriptor.RoleMiddle, Identity: [20]byte{2}},
		{Hostname: "e1", Role: descriptor.RoleExit, Identity: [20]byte{3}},
	}
	path, err := SelectPath(nodes)
	if err != nil {
		t.Fatalf("SelectPath: %v", err)
	}
	if path.Guard.Hostname != "g1" || path.Middle.Hostname != "m1" || path.Exit.Hostname != "e1" {
		t.Fatalf("unexpected path: %+v", path)
	}
}

func TestSelectPathMissingRole(t *testing.T) {
	nodes := []descriptor.NodeInfo{
		{Hostname: "g1", Role: descriptor.RoleGuard, Identity: [20]byte{1}},
	}
	if _, err := SelectPath(nodes); err == nil {
		t.Fatal("expected error when exit missing")
	}
}

func TestSelectMiddleExcludesGuardAndExit(t *testing.T) {
	guard := &descriptor.NodeInfo{Identity: [20]byte{1}}
	exit := &descriptor.NodeInfo{Identity: [20]byte{2}}
	nodes := []descriptor.NodeInfo{
		{Hostname: "dup-guard", Role: descriptor.RoleMiddle, Identity: [20]byte{1}},
		{Hostname: "dup-exit", Role: descriptor.RoleMiddle, Identity: [20]byte{2}},
		{Hostname: "m-ok", Role: descriptor.RoleMiddle, Identity: [20]byte{3}},
	}
	m, err := SelectMiddle(nodes, guard, exit)
	if err != nil {
		t.Fatalf("SelectMiddle: %v", err)
	}
	if m.Hostname != "m-ok" {
		t.Fatalf("expected m-ok, got %s", m.Hostname)
	}
}
