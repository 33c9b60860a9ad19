// Copyright 2024 The objectbridge Authors
// This file is part of the objectbridge library.
//
// The objectbridge library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The objectbridge library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the objectbridge library. If not, see
// <http://www.gnu.org/licenses/>.

package bridge

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestBridgeSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "bridge suite")
}

type account struct {
	Base
	Owner   string `json:"owner"`
	Balance int    `json:"balance"`
}

func newAccount(owner string, balance int) *account {
	a := &account{Owner: owner, Balance: balance}
	InitBase(&a.Base, a)
	return a
}

func (a *account) Deposit(amount int) int {
	a.Balance += amount
	a.Update("balance")
	return a.Balance
}

var _ = Describe("PackObject/DiffObject", func() {
	var acc *account

	BeforeEach(func() {
		acc = newAccount("ada", 100)
	})

	It("snapshots every non-method property on creation", func() {
		entry, cache := PackObject(nil, LocalId(1), acc)
		Expect(entry.Methods).To(ConsistOf("Deposit"))
		Expect(entry.Props).To(HaveKey("owner"))
		Expect(entry.Props).To(HaveKey("balance"))
		Expect(cache).To(HaveKey("owner"))
		Expect(cache).To(HaveKey("balance"))
	})

	It("only reports properties whose value actually changed", func() {
		_, cache := PackObject(nil, LocalId(1), acc)
		acc.Balance = 150
		changed := DiffObject(nil, acc, cache)
		Expect(changed).To(HaveKey("balance"))
		Expect(changed).NotTo(HaveKey("owner"))
	})

	It("converges to no further diffs once the cache has seen the current value", func() {
		_, cache := PackObject(nil, LocalId(1), acc)
		acc.Balance = 150
		DiffObject(nil, acc, cache)
		again := DiffObject(nil, acc, cache)
		Expect(again).To(BeEmpty())
	})
})

var _ = Describe("cycle detection", func() {
	type ring struct {
		Next *ring
	}

	It("packs a self-referential pointer graph without hanging when disabled is never attempted, and throws when enabled", func() {
		r := &ring{}
		r.Next = r
		bs := NewBridgeState(func(Message) error { return nil }, &Options{DetectCycles: true})
		pd := PackData(bs, r)
		Expect(pd.Throw).To(BeTrue())
	})

	It("leaves non-cyclic graphs unaffected by the guard", func() {
		type node struct {
			Val  int
			Next *node
		}
		n := &node{Val: 1, Next: &node{Val: 2}}
		bs := NewBridgeState(func(Message) error { return nil }, &Options{DetectCycles: true})
		pd := PackData(bs, n)
		Expect(pd.Throw).To(BeFalse())
	})
})

var _ = Describe("error class fidelity", func() {
	It("round-trips a registered error class by name", func() {
		err := constructError("RangeError", "index out of range")
		pd := PackThrow(nil, err)
		_, unpackErr := UnpackData(nil, pd, "$")
		Expect(unpackErr).To(HaveOccurred())
		Expect(unpackErr.Error()).To(Equal("index out of range"))
		Expect(errorClassOf(unpackErr)).To(Equal("RangeError"))
	})

	It("falls back to a generic error for an unrecognized base name", func() {
		got := constructError("NotARealClass", "whatever")
		Expect(got.Error()).To(Equal("whatever"))
	})
})
