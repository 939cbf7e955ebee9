package harness

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/juju/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/emu"
	"github.com/sarchlab/mcusim/system"
)

// checker evaluates a script's assertions against a board.
type checker struct {
	brd        *system.Board
	assertions []config.Assertion

	regexes map[int]*regexp.Regexp
	luaFns  map[int]*lua.LFunction
	L       *lua.LState

	hasOutput  bool
	outputSeen int
	outputMet  bool

	steps, cycles uint64
}

func newChecker(brd *system.Board, assertions []config.Assertion) (*checker, error) {
	c := &checker{
		brd:        brd,
		assertions: assertions,
		regexes:    map[int]*regexp.Regexp{},
		luaFns:     map[int]*lua.LFunction{},
		outputSeen: -1,
	}

	for i := range assertions {
		a := &assertions[i]
		switch a.Kind() {
		case config.AssertUARTContains:
			c.hasOutput = true
		case config.AssertUARTRegex:
			re, err := regexp.Compile(*a.UARTRegex)
			if err != nil {
				c.close()
				return nil, errors.NotValidf("assertion %d: uart_regex: %v", i, err)
			}
			c.regexes[i] = re
			c.hasOutput = true
		case config.AssertRegisterValue:
			if _, err := emu.RegisterIndex(brd.Core(), a.RegisterValue.Reg); err != nil {
				c.close()
				return nil, errors.Annotatef(err, "assertion %d", i)
			}
		case config.AssertLua:
			if c.L == nil {
				c.L = c.newLuaState()
			}
			fn, err := c.L.LoadString("return " + *a.Lua)
			if err != nil {
				c.close()
				return nil, errors.NotValidf("assertion %d: lua: %v", i, err)
			}
			c.luaFns[i] = fn
		case "":
			c.close()
			return nil, errors.NotValidf("assertion %d must set exactly one check", i)
		}
	}
	return c, nil
}

func (c *checker) close() {
	if c.L != nil {
		c.L.Close()
		c.L = nil
	}
}

// outputsMet reports whether every output assertion holds for uart. The
// answer is cached until the output grows.
func (c *checker) outputsMet(uart []byte) bool {
	if !c.hasOutput {
		return false
	}
	if len(uart) == c.outputSeen {
		return c.outputMet
	}
	c.outputSeen = len(uart)
	c.outputMet = true
	for i := range c.assertions {
		if c.assertions[i].IsOutput() && !c.outputHolds(i, uart) {
			c.outputMet = false
			break
		}
	}
	return c.outputMet
}

func (c *checker) outputHolds(i int, uart []byte) bool {
	a := &c.assertions[i]
	if a.UARTContains != nil {
		return bytes.Contains(uart, []byte(*a.UARTContains))
	}
	return c.regexes[i].Match(uart)
}

// evaluate checks every assertion at the end of a run.
func (c *checker) evaluate(reason config.StopReason, uart []byte) []AssertionResult {
	results := make([]AssertionResult, 0, len(c.assertions))
	for i := range c.assertions {
		a := c.assertions[i]
		r := AssertionResult{Assertion: a}

		switch a.Kind() {
		case config.AssertUARTContains, config.AssertUARTRegex:
			r.Passed = c.outputHolds(i, uart)
			if !r.Passed {
				r.Detail = fmt.Sprintf("captured %d bytes", len(uart))
			}
		case config.AssertExpectedStopReason:
			r.Passed = a.ExpectedStopReason == reason
			if !r.Passed {
				r.Detail = fmt.Sprintf("stopped with %s", reason)
			}
		case config.AssertMemoryValue:
			r.Passed, r.Detail = c.checkMemory(a.MemoryValue)
		case config.AssertRegisterValue:
			r.Passed, r.Detail = c.checkRegister(a.RegisterValue)
		case config.AssertLua:
			r.Passed, r.Detail = c.checkLua(i)
		}
		results = append(results, r)
	}
	return results
}

func (c *checker) checkMemory(mv *config.MemoryValue) (bool, string) {
	v, err := c.brd.Bus().Peek(mv.Address, 4)
	if err != nil {
		return false, err.Error()
	}
	mask := uint32(0xFFFFFFFF)
	if mv.Mask != nil {
		mask = *mv.Mask
	}
	if v&mask != mv.ExpectedValue&mask {
		return false, fmt.Sprintf("0x%08x = 0x%08x", mv.Address, v)
	}
	return true, ""
}

func (c *checker) checkRegister(rv *config.RegisterValue) (bool, string) {
	core := c.brd.Core()
	n, err := emu.RegisterIndex(core, rv.Reg)
	if err != nil {
		return false, err.Error()
	}
	if v := core.Register(n); v != rv.ExpectedValue {
		return false, fmt.Sprintf("%s = 0x%08x", rv.Reg, v)
	}
	return true, ""
}

func (c *checker) checkLua(i int) (bool, string) {
	L := c.L
	L.Push(c.luaFns[i])
	if err := L.PCall(0, 1, nil); err != nil {
		return false, err.Error()
	}
	v := L.Get(-1)
	L.Pop(1)
	if !lua.LVAsBool(v) {
		return false, fmt.Sprintf("evaluated to %s", v.String())
	}
	return true, ""
}

// newLuaState opens a sandbox with the base, string and math libraries
// and the machine accessors.
func (c *checker) newLuaState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	L.SetGlobal("reg", L.NewFunction(func(L *lua.LState) int {
		core := c.brd.Core()
		var n int
		var err error
		if s, ok := L.Get(1).(lua.LString); ok {
			n, err = emu.RegisterIndex(core, string(s))
		} else {
			n, err = emu.RegisterIndex(core, fmt.Sprint(L.CheckInt(1)))
		}
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(lua.LNumber(core.Register(n)))
		return 1
	}))
	L.SetGlobal("mem32", L.NewFunction(func(L *lua.LState) int {
		addr := uint32(L.CheckNumber(1))
		v, err := c.brd.Bus().Peek(addr, 4)
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(lua.LNumber(v))
		return 1
	}))
	L.SetGlobal("uart", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(c.brd.UARTOutput()))
		return 1
	}))
	L.SetGlobal("steps", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(c.steps))
		return 1
	}))
	L.SetGlobal("cycles", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(c.cycles))
		return 1
	}))
	return L
}
