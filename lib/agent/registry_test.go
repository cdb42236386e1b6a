// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/GavinHwa/palo/sdk/go/palo"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&RegistrySuite{})

type RegistrySuite struct{}

func (*RegistrySuite) TestTryRegisterDedup(c *check.C) {
	r := newRegistry()
	c.Check(r.tryRegister(palo.TaskCreateTablet, 7, ""), check.Equals, true)
	c.Check(r.tryRegister(palo.TaskCreateTablet, 7, ""), check.Equals, false)
	// Same signature under a different kind is distinct.
	c.Check(r.tryRegister(palo.TaskDropTablet, 7, ""), check.Equals, true)
	c.Check(r.inflightCount(palo.TaskCreateTablet), check.Equals, 1)

	r.deregister(palo.TaskCreateTablet, 7, "")
	c.Check(r.inflightCount(palo.TaskCreateTablet), check.Equals, 0)
	c.Check(r.tryRegister(palo.TaskCreateTablet, 7, ""), check.Equals, true)
}

func (*RegistrySuite) TestPushCountsDrainToZero(c *check.C) {
	r := newRegistry()
	c.Check(r.tryRegister(palo.TaskPush, 1, "alice"), check.Equals, true)
	c.Check(r.tryRegister(palo.TaskPush, 2, "alice"), check.Equals, true)
	c.Check(r.tryRegister(palo.TaskPush, 3, "bob"), check.Equals, true)

	// A duplicate changes no counters.
	c.Check(r.tryRegister(palo.TaskPush, 2, "alice"), check.Equals, false)
	c.Check(r.total, check.Equals, 3)
	c.Check(r.totalByUser["alice"], check.Equals, 2)
	c.Check(r.totalByUser["bob"], check.Equals, 1)

	r.markRunning("alice")
	r.deregister(palo.TaskPush, 1, "alice")
	r.markRunning("alice")
	r.deregister(palo.TaskPush, 2, "alice")
	r.markRunning("bob")
	r.deregister(palo.TaskPush, 3, "bob")

	c.Check(r.total, check.Equals, 0)
	c.Check(r.totalByUser, check.HasLen, 0)
	c.Check(r.runningByUser, check.HasLen, 0)
	c.Check(r.inflightCount(palo.TaskPush), check.Equals, 0)
}

func (*RegistrySuite) TestPushSharesZeroTotal(c *check.C) {
	r := newRegistry()
	// No admitted pushes at all: the admitted share must come out
	// 0 rather than dividing by zero.
	running, shareAdmit, shareRun := r.pushShares("alice", 4)
	c.Check(running, check.Equals, 0)
	c.Check(shareAdmit, check.Equals, 0.0)
	c.Check(shareRun, check.Equals, 0.25)
}

func (*RegistrySuite) TestReportVersionMonotone(c *check.C) {
	r := newRegistry()
	v0 := r.loadReportVersion()
	c.Check(v0 > 0, check.Equals, true)
	last := v0
	for i := 0; i < 100; i++ {
		v := r.nextReportVersion()
		c.Check(v > last, check.Equals, true)
		last = v
	}
	c.Check(r.loadReportVersion(), check.Equals, v0+100)
}

func (*RegistrySuite) TestSnapshotInflightIsACopy(c *check.C) {
	r := newRegistry()
	r.tryRegister(palo.TaskClone, 5, "")
	r.tryRegister(palo.TaskClone, 3, "")
	snap := r.snapshotInflight()
	c.Check(snap[palo.TaskClone], check.DeepEquals, []int64{3, 5})

	// Mutating the registry afterwards must not affect the copy.
	r.deregister(palo.TaskClone, 3, "")
	c.Check(snap[palo.TaskClone], check.DeepEquals, []int64{3, 5})
}
