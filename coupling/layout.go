// Package coupling places the ranks of a run into the coarse and the fine
// group and drives the step loop of one rank.
package coupling

import (
	"errors"
	"fmt"

	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/exchange"
)

var ErrInvalidLayout = errors.New("coupling: invalid layout")

// Layout assigns the ranks of a run to the coarse and the fine group. The
// first rank listed for a group is its leader and is the only rank of the
// group that exchanges. Ranks that appear in neither group are orphans.
type Layout struct {
	World  int
	Coarse []int
	Fine   []int
}

// Validate checks that both groups are non-empty, inside the world, and
// disjoint.
func (l Layout) Validate() error {
	if l.World <= 0 {
		return fmt.Errorf("%w: world size %d", ErrInvalidLayout, l.World)
	}

	if len(l.Coarse) == 0 || len(l.Fine) == 0 {
		return fmt.Errorf("%w: both the coarse and the fine group need a rank",
			ErrInvalidLayout)
	}

	seen := make(map[int]string)
	check := func(group string, ranks []int) error {
		for _, r := range ranks {
			if r < 0 || r >= l.World {
				return fmt.Errorf("%w: %s rank %d outside world of size %d",
					ErrInvalidLayout, group, r, l.World)
			}

			if prev, dup := seen[r]; dup {
				return fmt.Errorf("%w: rank %d is listed in %s and %s",
					ErrInvalidLayout, r, prev, group)
			}

			seen[r] = group
		}

		return nil
	}

	if err := check("coarse", l.Coarse); err != nil {
		return err
	}

	return check("fine", l.Fine)
}

// Assignment is what one rank learns from the layout.
type Assignment struct {
	// Rank is the world rank.
	Rank int

	Role exchange.Role

	// Group is the local communicator. It is nil for an orphan.
	Group comm.Group

	// LocalLeader is the leader's rank within Group.
	LocalLeader int

	// RemoteLeader is the world rank of the other side's leader.
	RemoteLeader int
}

// Orphan returns true if the rank belongs to neither group.
func (a Assignment) Orphan() bool {
	return a.Role == exchange.RoleNone
}

// IsLeader returns true if the rank talks to the other side.
func (a Assignment) IsLeader() bool {
	return !a.Orphan() && a.Group.Rank() == a.LocalLeader
}

// Resolve returns the assignment of a world rank.
func (l Layout) Resolve(rank int) (Assignment, error) {
	if err := l.Validate(); err != nil {
		return Assignment{}, err
	}

	if rank < 0 || rank >= l.World {
		return Assignment{}, fmt.Errorf("%w: rank %d outside world of size %d",
			ErrInvalidLayout, rank, l.World)
	}

	a := Assignment{Rank: rank}

	if i := indexOf(l.Coarse, rank); i >= 0 {
		a.Role = exchange.RoleCoarse
		a.Group = comm.RankGroup{MyRank: i, NumRanks: len(l.Coarse)}
		a.RemoteLeader = l.Fine[0]
	} else if i := indexOf(l.Fine, rank); i >= 0 {
		a.Role = exchange.RoleFine
		a.Group = comm.RankGroup{MyRank: i, NumRanks: len(l.Fine)}
		a.RemoteLeader = l.Coarse[0]
	}

	return a, nil
}

func indexOf(ranks []int, rank int) int {
	for i, r := range ranks {
		if r == rank {
			return i
		}
	}

	return -1
}
