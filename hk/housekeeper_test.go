// Package hk provides a mechanism for registering periodic callbacks
// invoked at per-task intervals from a single background goroutine.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/nxconn/nxconn/hk"
	"go.uber.org/atomic"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	BeforeEach(func() {
		hk.TestInit()
		go hk.DefaultHK.Run()
		hk.WaitStarted()
	})

	It("should register the callback and fire it", func() {
		fired := false
		hk.Reg("", func() time.Duration {
			fired = true
			return time.Second
		}, 0)

		time.Sleep(20 * time.Millisecond)
		Expect(fired).To(BeTrue())
		fired = false

		time.Sleep(500 * time.Millisecond)
		Expect(fired).To(BeFalse())

		time.Sleep(600 * time.Millisecond)
		Expect(fired).To(BeTrue())
	})

	It("should register the callback and fire it after initial interval", func() {
		fired := false
		hk.Reg("", func() time.Duration {
			fired = true
			return time.Second
		}, time.Second)

		time.Sleep(500 * time.Millisecond)
		Expect(fired).To(BeFalse())

		time.Sleep(600 * time.Millisecond)
		Expect(fired).To(BeTrue())
	})

	It("should register multiple callbacks and fire them in order", func() {
		fired := make([]bool, 2)
		hk.Reg("foo", func() time.Duration {
			fired[0] = true
			return 2 * time.Second
		}, 0)
		hk.Reg("bar", func() time.Duration {
			fired[1] = true
			return time.Second + 500*time.Millisecond
		}, 0)

		time.Sleep(20 * time.Millisecond)
		for idx := range fired {
			Expect(fired[idx]).To(BeTrue())
			fired[idx] = false
		}

		time.Sleep(600 * time.Millisecond)
		Expect(fired[0] || fired[1]).To(BeFalse())

		time.Sleep(time.Second)
		Expect(fired[0]).To(BeFalse())
		Expect(fired[1]).To(BeTrue())
		fired[1] = false

		time.Sleep(500 * time.Millisecond)
		Expect(fired[0]).To(BeTrue())
		Expect(fired[1]).To(BeFalse())
	})

	It("should unregister a callback", func() {
		fired := make([]bool, 2)
		hk.Reg("bar", func() time.Duration {
			fired[0] = true
			return 400 * time.Millisecond
		}, 400*time.Millisecond)
		hk.Reg("foo", func() time.Duration {
			fired[1] = true
			return 200 * time.Millisecond
		}, 200*time.Millisecond)

		time.Sleep(500 * time.Millisecond)
		Expect(fired[0] && fired[1]).To(BeTrue())

		fired[0] = false
		fired[1] = false
		hk.Unreg("foo")

		time.Sleep(time.Second)
		Expect(fired[1]).To(BeFalse())
		Expect(fired[0]).To(BeTrue())

		hk.Unreg("bar")
	})

	It("should register and unregister multiple callbacks", func() {
		var fired bool
		run := func(name string) {
			Expect(fired).To(BeFalse())
			hk.Reg(name, func() time.Duration {
				fired = true
				return 100 * time.Millisecond
			}, 100*time.Millisecond)

			time.Sleep(110 * time.Millisecond)
			Expect(fired).To(BeTrue())

			hk.Unreg(name)
			fired = false
		}

		run("foo")
		run("bar")
		run("baz")

		time.Sleep(time.Second)
		Expect(fired).To(BeFalse())
	})

	It("should correctly call many callbacks in their scheduled order", func() {
		const taskCnt = 30
		var (
			counter atomic.Int32
			durs    = make([]time.Duration, taskCnt)
			fired   = make([]int32, taskCnt)
		)
		for i := range durs {
			durs[i] = 50*time.Millisecond + 40*time.Duration(i)*time.Millisecond
			fired[i] = -1
		}
		order := rand.Perm(taskCnt)

		for _, i := range order {
			idx := i
			hk.Reg(fmt.Sprintf("%d", idx), func() time.Duration {
				if fired[idx] == -1 {
					fired[idx] = counter.Inc() - 1
				}
				return durs[idx]
			}, durs[idx])
		}

		time.Sleep(taskCnt * 100 * time.Millisecond)

		for i := 0; i < taskCnt; i++ {
			Expect(fired[i]).To(BeEquivalentTo(i))
		}
	})
})
