// Package pathselect picks a Guard/Middle/Exit triple from a node list.
// The weighted-bandwidth, subnet-diversity selection a real consensus
// supports has no counterpart here: the directory carries no bandwidth
// or subnet data (spec §4.6), so selection is "first available node of
// each role", distinct from one another.
package pathselect

import (
	"fmt"

	"github.com/pqtor/tor-pq/descriptor"
)

// Path is a selected Guard/Middle/Exit triple.
type Path struct {
	Guard  descriptor.NodeInfo
	Middle descriptor.NodeInfo
	Exit   descriptor.NodeInfo
}

// SelectPath picks one node of each role from nodes, requiring the three
// to have distinct identities.
func SelectPath(nodes []descriptor.NodeInfo) (*Path, error) {
	exit, err := SelectExit(nodes)
	if err != nil {
		return nil, fmt.Errorf("select exit: %w", err)
	}
	guard, err := SelectGuard(nodes, exit)
	if err != nil {
		return nil, fmt.Errorf("select guard: %w", err)
	}
	middle, err := SelectMiddle(nodes, guard, exit)
	if err != nil {
		return nil, fmt.Errorf("select middle: %w", err)
	}
	return &Path{Guard: *guard, Middle: *middle, Exit: *exit}, nil
}

// SelectExit returns the first node tagged as an exit.
func SelectExit(nodes []descriptor.NodeInfo) (*descriptor.NodeInfo, error) {
	for i := range nodes {
		if nodes[i].Role == descriptor.RoleExit {
			return &nodes[i], nil
		}
	}
	return nil, fmt.Errorf("no exit node available")
}

// SelectGuard returns the first node tagged as a guard, distinct from exit.
func SelectGuard(nodes []descriptor.NodeInfo, exit *descriptor.NodeInfo) (*descriptor.NodeInfo, error) {
	for i := range nodes {
		if nodes[i].Role == descriptor.RoleGuard && nodes[i].Identity != exit.Identity {
			return &nodes[i], nil
		}
	}
	return nil, fmt.Errorf("no guard node available")
}

// SelectMiddle returns the first node tagged as a middle, distinct from
// both guard and exit.
func SelectMiddle(nodes []descriptor.NodeInfo, guard, exit *descriptor.NodeInfo) (*descriptor.NodeInfo, error) {
	for i := range nodes {
		if nodes[i].Role != descriptor.RoleMiddle {
			continue
		}
		if nodes[i].Identity == guard.Identity || nodes[i].Identity == exit.Identity {
			continue
		}
		return &nodes[i], nil
	}
	return nil, fmt.Errorf("no middle node available")
}
